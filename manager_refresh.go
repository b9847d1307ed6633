package goSession

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/internal/breaker"
	"github.com/MrEthical07/goSession/internal/queue"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/refresh"
	"go.uber.org/zap"
)

type origin uint8

const (
	originLocal origin = iota
	// originRemote marks refreshes started in response to a sibling's
	// REFRESH_REQUESTED action. They are not announced again.
	originRemote
)

type refreshResult struct {
	token string
	err   error
}

// waiter is one caller blocked in RefreshToken. Internal requests (timers,
// sibling actions) have no waiter.
type waiter struct {
	ch        chan refreshResult
	abandoned atomic.Bool

	// joined is closed once the waiter is attached to a flight.
	joined   chan struct{}
	joinOnce sync.Once
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan refreshResult, 1), joined: make(chan struct{})}
}

func (w *waiter) join() {
	w.joinOnce.Do(func() { close(w.joined) })
}

func (w *waiter) deliver(token string, err error) {
	select {
	case w.ch <- refreshResult{token: token, err: err}:
	default:
	}
}

// flight is the single in-progress refresh call.
type flight struct {
	lockID  string
	waiters []*waiter
	started time.Time
}

// RefreshToken obtains a new token from the backend and returns it.
//
// Callers arriving while a refresh is in flight share its outcome. Callers
// arriving within MinInterval of the previous call are queued and served
// together by the next one. A tripped breaker fails the call immediately
// with ErrCircuitBreakerTripped. The wait is bounded by WaitTimeout and
// ctx; giving up does not cancel the underlying call.
func (m *Manager) RefreshToken(ctx context.Context, priority Priority) (string, error) {
	w := newWaiter()

	var fx effects
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", errClosed()
	}
	if m.state == StateRevoked {
		m.mu.Unlock()
		return "", newError(CodeTokenRevoked, "token revoked", nil)
	}
	m.queueRefreshLocked(w, priority, originLocal, &fx)
	m.mu.Unlock()

	m.flush(&fx)
	return m.wait(ctx, w)
}

// wait blocks until w is resolved. WaitTimeout counts from the moment the
// waiter joins a flight; a queued waiter is additionally allowed the
// MinInterval it may spend in the queue.
func (m *Manager) wait(ctx context.Context, w *waiter) (string, error) {
	joined := w.joined
	var timeout <-chan time.Time
	select {
	case <-joined:
		joined = nil
		timeout = m.clock.After(m.cfg.Refresh.WaitTimeout)
	default:
		timeout = m.clock.After(m.cfg.Refresh.MinInterval + m.cfg.Refresh.WaitTimeout)
	}

	for {
		select {
		case r := <-w.ch:
			return r.token, r.err
		case <-joined:
			joined = nil
			timeout = m.clock.After(m.cfg.Refresh.WaitTimeout)
		case <-ctx.Done():
			w.abandoned.Store(true)
			return "", newError(CodeRefreshFailed, "wait cancelled", ctx.Err())
		case <-timeout:
			w.abandoned.Store(true)
			return "", newError(CodeRefreshFailed, "refresh wait timed out", context.DeadlineExceeded)
		}
	}
}

func (m *Manager) queueRefreshLocked(w *waiter, priority Priority, from origin, fx *effects) {
	if resetAt, open := m.breaker.Check(); open {
		fx.reject(w, breakerError(resetAt))
		return
	}

	if f := m.inflight; f != nil && m.lock.Held() {
		if w != nil {
			f.waiters = append(f.waiters, w)
			w.join()
		}
		m.counters.coalesced.Add(1)
		m.metrics.Inc(MetricRefreshCoalesced)
		return
	}

	now := m.clock.Now()
	if m.inflight == nil && !m.lastCallAt.IsZero() && now.Sub(m.lastCallAt) < m.cfg.Refresh.MinInterval {
		m.enqueueLocked(w, priority, now, fx)
		m.armDrainLocked()
		return
	}

	m.startFlightLocked([]*waiter{w}, from, fx)
}

func (m *Manager) enqueueLocked(w *waiter, priority Priority, now time.Time, fx *effects) {
	old, evicted := m.queue.Push(queue.Entry[*waiter]{
		Priority:  int(priority),
		Timestamp: now,
		Value:     w,
	})
	m.metrics.Inc(MetricRefreshQueued)
	if evicted {
		m.counters.evicted.Add(1)
		m.metrics.Inc(MetricQueueEvicted)
		fx.reject(old.Value, newError(CodeRefreshFailed, "queue_overflow", nil))
	}
	if n := m.queue.Len(); n > m.maxQueueDepth {
		m.maxQueueDepth = n
	}
}

func (m *Manager) armDrainLocked() {
	if m.closed || m.queue.Len() == 0 || m.drainTimer != nil {
		return
	}
	if m.inflight != nil && m.lock.Held() {
		return
	}
	d := m.lastCallAt.Add(m.cfg.Refresh.MinInterval).Sub(m.clock.Now())
	m.drainTimer = m.after(d, m.drainQueue)
}

// drainQueue serves every queued request with one refresh. Waiters are
// attached in drain order: priority first, then arrival.
func (m *Manager) drainQueue() {
	var fx effects
	m.mu.Lock()
	m.drainTimer = nil
	if m.closed || m.queue.Len() == 0 || (m.inflight != nil && m.lock.Held()) {
		m.mu.Unlock()
		return
	}

	entries := m.queue.Drain()
	waiters := make([]*waiter, 0, len(entries))
	internal := false
	for _, e := range entries {
		switch {
		case e.Value == nil:
			internal = true
		case !e.Value.abandoned.Load():
			waiters = append(waiters, e.Value)
		}
	}

	switch {
	case len(waiters) == 0 && !internal:
	case m.state == StateRevoked:
		for _, w := range waiters {
			fx.reject(w, newError(CodeTokenRevoked, "token revoked", nil))
		}
	default:
		if resetAt, open := m.breaker.Check(); open {
			for _, w := range waiters {
				fx.reject(w, breakerError(resetAt))
			}
			break
		}
		if len(waiters) == 0 {
			waiters = append(waiters, nil)
		}
		m.startFlightLocked(waiters, originLocal, &fx)
	}
	m.mu.Unlock()
	m.flush(&fx)
}

// startFlightLocked performs the guarded refresh call: breaker and abuse
// accounting, lock acquisition, state change and the asynchronous network
// call.
func (m *Manager) startFlightLocked(waiters []*waiter, from origin, fx *effects) {
	allowed, trippedNow, resetAt := m.breaker.Attempt()
	if !allowed {
		if trippedNow {
			m.onBreakerTrippedLocked(resetAt, breaker.ReasonAbuse, fx)
		}
		err := breakerError(resetAt)
		for _, w := range waiters {
			fx.reject(w, err)
		}
		return
	}

	now := m.clock.Now()
	id, ok := m.lock.TryAcquire()
	if !ok {
		for _, w := range waiters {
			m.enqueueLocked(w, PriorityHigh, now, fx)
		}
		m.armDrainLocked()
		return
	}

	f := &flight{lockID: id, started: now}
	if prev := m.inflight; prev != nil {
		// The previous holder went stale; its callers move to this flight.
		f.waiters = append(f.waiters, prev.waiters...)
		prev.waiters = nil
		m.logger.Warn("refresh.lock_reclaimed", zap.Duration("held_for", now.Sub(prev.started)))
	}
	for _, w := range waiters {
		if w != nil {
			f.waiters = append(f.waiters, w)
			w.join()
		}
	}

	m.inflight = f
	m.lastCallAt = now
	m.counters.attempts.Add(1)
	m.setStateLocked(StateRefreshing, fx)
	if from == originLocal && m.syncing() {
		fx.actions = append(fx.actions, actionRefreshRequested)
	}

	req := refresh.Request{
		Device:          m.cfg.Device.Class,
		RememberMe:      m.cfg.Device.RememberMe,
		InactiveSeconds: int64(m.tracker.Inactivity() / time.Second),
	}
	go m.runFlight(f, req)
}

func (m *Manager) runFlight(f *flight, req refresh.Request) {
	start := time.Now()
	res, err := m.refresher.Refresh(m.baseCtx, req)
	m.completeFlight(f, res, err, time.Since(start))
}

func (m *Manager) completeFlight(f *flight, res *refresh.Result, callErr error, latency time.Duration) {
	var fx effects
	m.mu.Lock()

	m.lock.Release(f.lockID)
	superseded := m.inflight != f
	if !superseded {
		m.inflight = nil
	}
	waiters := f.waiters
	f.waiters = nil

	switch {
	case m.closed:
		for _, w := range waiters {
			fx.reject(w, errClosed())
		}
	case superseded:
		m.logger.Info("refresh.superseded", zap.Bool("failed", callErr != nil))
		for _, w := range waiters {
			fx.reject(w, newError(CodeRefreshFailed, "refresh superseded", nil))
		}
	case m.state == StateRevoked:
		for _, w := range waiters {
			fx.reject(w, newError(CodeTokenRevoked, "token revoked during refresh", nil))
		}
	case callErr != nil:
		m.failRefreshLocked(classifyRefreshError(callErr), waiters, &fx)
	default:
		claims, err := m.decode(res.Token)
		if err != nil {
			m.failRefreshLocked(newError(CodeInvalidToken, "refresh returned an undecodable token", err), waiters, &fx)
			break
		}
		m.succeedRefreshLocked(res.Token, claims, latency, waiters, &fx)
	}

	m.armDrainLocked()
	m.mu.Unlock()
	m.flush(&fx)
}

func (m *Manager) succeedRefreshLocked(token string, claims *jwt.Claims, latency time.Duration, waiters []*waiter, fx *effects) {
	m.breaker.Success()

	n := m.counters.success.Add(1)
	m.avgLatency += (latency - m.avgLatency) / time.Duration(n)
	m.metrics.Inc(MetricRefreshSuccess)
	m.metrics.Observe(MetricRefreshLatency, latency)

	m.installTokenLocked(token, claims, m.clock.Now(), fx)
	fx.events = append(fx.events, Event{
		Kind:      EventRefreshed,
		Time:      m.clock.Now(),
		State:     m.state,
		ContextID: m.contextID,
	})
	for _, w := range waiters {
		fx.resolve(w, token)
	}

	m.logger.Debug("refresh.succeeded",
		zap.Duration("latency", latency),
		zap.Time("expires_at", claims.ExpiresAt),
		zap.Int("waiters", len(waiters)),
	)
}

func (m *Manager) failRefreshLocked(e *Error, waiters []*waiter, fx *effects) {
	m.counters.failures.Add(1)
	m.metrics.Inc(MetricRefreshFailure)
	m.lastErr = e

	if tripped, resetAt := m.breaker.Failure(); tripped {
		m.onBreakerTrippedLocked(resetAt, breaker.ReasonFailures, fx)
	}

	m.setStateLocked(StateError, fx)
	if e.Code == CodeUnauthorized {
		m.stopTokenTimersLocked()
		m.setStateLocked(StateExpired, fx)
	}

	fx.events = append(fx.events, Event{
		Kind:      EventRefreshFailed,
		Time:      m.clock.Now(),
		State:     m.state,
		Err:       e,
		ContextID: m.contextID,
	})
	for _, w := range waiters {
		fx.reject(w, e)
	}

	m.logger.Warn("refresh.failed",
		zap.String("code", string(e.Code)),
		zap.Int("status", e.Status),
		zap.Error(e.Err),
	)
}

func (m *Manager) onBreakerTrippedLocked(resetAt time.Time, reason breaker.Reason, fx *effects) {
	m.metrics.Inc(MetricBreakerTripped)
	fx.events = append(fx.events, Event{
		Kind:      EventBreakerTripped,
		Time:      m.clock.Now(),
		State:     m.state,
		ResetAt:   resetAt,
		ContextID: m.contextID,
	})
	m.logger.Warn("breaker.tripped",
		zap.String("reason", string(reason)),
		zap.Time("reset_at", resetAt),
	)
}

func breakerError(resetAt time.Time) *Error {
	return &Error{
		Code:    CodeCircuitBreakerTripped,
		Message: "refresh blocked until breaker resets",
		ResetAt: resetAt,
	}
}

// classifyRefreshError maps refresher and verifier failures onto the
// error taxonomy.
func classifyRefreshError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	out := &Error{Err: err}
	var se *refresh.StatusError
	if errors.As(err, &se) {
		out.Status = se.Status
	}

	switch {
	case errors.Is(err, refresh.ErrUnauthorized):
		out.Code = CodeUnauthorized
		out.Message = "refresh credential rejected"
	case errors.Is(err, refresh.ErrServer):
		out.Code = CodeServerError
	case errors.Is(err, refresh.ErrNetwork),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		out.Code = CodeNetworkError
	case errors.Is(err, refresh.ErrProtocol):
		out.Code = CodeInvalidToken
		out.Message = "malformed refresh response"
	default:
		out.Code = CodeUnknown
	}
	return out
}
