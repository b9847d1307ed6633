package goSession

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/activity"
	"github.com/MrEthical07/goSession/clock"
	"github.com/MrEthical07/goSession/jwt"
	"go.uber.org/zap"
)

// effects collects work produced under m.mu that must run after it is
// released: waiter resolution, event emission and broadcasts.
type effects struct {
	// remote marks changes applied from a sibling context. They never
	// produce outgoing broadcasts.
	remote       bool
	resolved     []resolution
	events       []Event
	publishState bool
	actions      []string
}

type resolution struct {
	w     *waiter
	token string
	err   error
}

func (fx *effects) resolve(w *waiter, token string) {
	if w == nil {
		return
	}
	fx.resolved = append(fx.resolved, resolution{w: w, token: token})
}

func (fx *effects) reject(w *waiter, err error) {
	if w == nil {
		return
	}
	fx.resolved = append(fx.resolved, resolution{w: w, err: err})
}

func (m *Manager) flush(fx *effects) {
	for _, r := range fx.resolved {
		r.w.deliver(r.token, r.err)
	}
	for _, e := range fx.events {
		m.events.Emit(e)
	}
	if fx.publishState {
		m.scheduleStateBroadcast()
	}
	for _, a := range fx.actions {
		m.publishAction(a)
	}
}

func (m *Manager) setStateLocked(next TokenState, fx *effects) {
	prev := m.state
	if prev == next {
		return
	}
	m.state = next

	now := m.clock.Now()
	base := Event{Time: now, State: next, Previous: prev, Remote: fx.remote, ContextID: m.contextID}

	changed := base
	changed.Kind = EventStateChanged
	fx.events = append(fx.events, changed)

	switch next {
	case StateExpiringSoon:
		e := base
		e.Kind = EventExpiring
		if m.claims != nil {
			e.SecondsRemaining = int64(m.claims.ExpiresAt.Sub(now) / time.Second)
		}
		fx.events = append(fx.events, e)
	case StateExpired:
		e := base
		e.Kind = EventExpired
		e.Err = m.lastErr
		fx.events = append(fx.events, e)
	case StateRevoked:
		e := base
		e.Kind = EventRevoked
		fx.events = append(fx.events, e)
	}

	switch next {
	case StateValid, StateExpired, StateRevoked:
		if !fx.remote {
			fx.publishState = true
		}
	}

	m.logger.Debug("token.state",
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
		zap.Bool("remote", fx.remote),
	)
}

// installTokenLocked makes raw the current token and arms its timers.
// at becomes the new lastRefresh time.
func (m *Manager) installTokenLocked(raw string, claims *jwt.Claims, at time.Time, fx *effects) {
	m.stopTokenTimersLocked()
	m.tokenGen++
	gen := m.tokenGen

	m.token = raw
	m.claims = claims
	m.lastRefresh = at
	m.lastErr = nil
	if !fx.remote {
		fx.publishState = true
	}

	now := m.clock.Now()
	remaining := claims.ExpiresAt.Sub(now)
	if remaining <= 0 {
		m.setStateLocked(StateExpired, fx)
		return
	}

	m.setStateLocked(StateValid, fx)

	if untilExpiring := remaining - m.cfg.Refresh.ExpiringThreshold; untilExpiring <= 0 {
		m.setStateLocked(StateExpiringSoon, fx)
	} else {
		m.expiringTimer = m.after(untilExpiring, func() { m.onExpiringTimer(gen) })
	}
	m.expiryTimer = m.after(remaining, func() { m.onExpiryTimer(gen) })

	if m.cfg.Refresh.AutoRefresh {
		m.armRefreshTimerLocked(claims, now, gen)
	}
}

// armRefreshTimerLocked schedules the proactive refresh at
// iat + lifetime*threshold, where threshold depends on user inactivity.
func (m *Manager) armRefreshTimerLocked(claims *jwt.Claims, now time.Time, gen uint64) {
	issued := claims.IssuedAt
	if issued.IsZero() {
		issued = now
	}
	lifetime := claims.ExpiresAt.Sub(issued)
	inactivity := m.tracker.Inactivity()
	threshold := activity.EffectiveThreshold(inactivity, m.policy)

	fireAt := issued.Add(activity.RefreshOffset(lifetime, threshold))
	m.nextRefreshAt = fireAt
	m.refreshTimer = m.after(fireAt.Sub(now), func() { m.onRefreshTimer(gen) })

	m.logger.Debug("refresh.scheduled",
		zap.Time("at", fireAt),
		zap.Float64("threshold", threshold),
		zap.Duration("inactivity", inactivity),
	)
}

func (m *Manager) stopTokenTimersLocked() {
	for _, t := range []**clock.Timer{&m.refreshTimer, &m.expiringTimer, &m.expiryTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	m.nextRefreshAt = time.Time{}
}

func (m *Manager) onExpiringTimer(gen uint64) {
	var fx effects
	m.mu.Lock()
	if gen == m.tokenGen && !m.closed {
		m.expiringTimer = nil
		if m.state == StateValid {
			m.setStateLocked(StateExpiringSoon, &fx)
		}
	}
	m.mu.Unlock()
	m.flush(&fx)
}

func (m *Manager) onExpiryTimer(gen uint64) {
	var fx effects
	m.mu.Lock()
	if gen == m.tokenGen && !m.closed {
		m.expiryTimer = nil
		switch m.state {
		case StateValid, StateExpiringSoon, StateRefreshing, StateError:
			m.stopTokenTimersLocked()
			m.setStateLocked(StateExpired, &fx)
		}
	}
	m.mu.Unlock()
	m.flush(&fx)
}

func (m *Manager) onRefreshTimer(gen uint64) {
	var fx effects
	m.mu.Lock()
	if gen == m.tokenGen && !m.closed {
		m.refreshTimer = nil
		m.nextRefreshAt = time.Time{}
		switch m.state {
		case StateValid, StateExpiringSoon:
			m.queueRefreshLocked(nil, PriorityNormal, originLocal, &fx)
		}
	}
	m.mu.Unlock()
	m.flush(&fx)
}

// RevokeToken discards the current token, stops automatic refresh, rejects
// pending refresh callers and tells sibling contexts to do the same. The
// manager stays revoked until InitializeToken or an adopted sibling token.
func (m *Manager) RevokeToken(ctx context.Context) error {
	var fx effects
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errClosed()
	}
	m.revokeLocked(&fx)
	m.mu.Unlock()

	m.flush(&fx)
	m.logger.Info("token.revoked")
	return nil
}

func (m *Manager) revokeLocked(fx *effects) {
	m.stopTokenTimersLocked()
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
		m.debounceTimer = nil
	}
	m.tokenGen++
	m.token = ""
	m.claims = nil
	m.lastRefresh = m.clock.Now()

	revoked := newError(CodeTokenRevoked, "token revoked", nil)
	for _, e := range m.queue.Drain() {
		fx.reject(e.Value, revoked)
	}
	if f := m.inflight; f != nil {
		for _, w := range f.waiters {
			fx.reject(w, revoked)
		}
		f.waiters = nil
	}

	m.setStateLocked(StateRevoked, fx)
	if !fx.remote {
		fx.actions = append(fx.actions, actionRevokeToken)
	}
}
