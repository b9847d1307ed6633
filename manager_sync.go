package goSession

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/jwt"
	"go.uber.org/zap"
)

const (
	actionRevokeToken      = "REVOKE_TOKEN"
	actionRefreshRequested = "REFRESH_REQUESTED"
)

// statePayload carries TokenState in its string form. Only valid, expired
// and revoked are ever sent.
type statePayload struct {
	Token string `cbor:"1,keyasint,omitempty"`
	State string `cbor:"2,keyasint"`
}

type actionPayload struct {
	Action string `cbor:"1,keyasint"`
}

func (m *Manager) syncing() bool {
	return m.bus != nil && m.cfg.Sync.Enabled
}

func (m *Manager) subscribeBus(ctx context.Context) error {
	if !m.syncing() {
		return nil
	}

	stateSub, err := m.bus.Subscribe(ctx, m.stateChannel, m.onStateMessage)
	if err != nil {
		return err
	}
	actionSub, err := m.bus.Subscribe(ctx, m.actionChannel, m.onActionMessage)
	if err != nil {
		_ = stateSub.Close()
		return err
	}

	m.syncMu.Lock()
	m.busSubs = append(m.busSubs, stateSub, actionSub)
	m.syncMu.Unlock()
	return nil
}

// SyncFromPeers reads the last state written by any sibling context and
// adopts it under the usual rules. It lets a context created after that
// write converge without waiting for the next broadcast.
func (m *Manager) SyncFromPeers(ctx context.Context) error {
	if !m.syncing() {
		return nil
	}
	msg, ok, err := m.bus.Latest(ctx, m.stateChannel)
	if err != nil {
		return newError(CodeNetworkError, "read shared state", err)
	}
	if ok {
		m.onStateMessage(msg)
	}
	return nil
}

// scheduleStateBroadcast publishes the current state at most once per
// BroadcastInterval. A call inside the interval schedules one trailing
// publish that carries whatever state is current when it fires.
func (m *Manager) scheduleStateBroadcast() {
	if !m.syncing() {
		return
	}

	m.syncMu.Lock()
	now := m.clock.Now()
	if m.limiter.AllowN(now, 1) {
		m.syncMu.Unlock()
		m.publishState()
		return
	}
	if m.trailing != nil {
		m.syncMu.Unlock()
		return
	}
	r := m.limiter.ReserveN(now, 1)
	m.trailing = m.after(r.DelayFrom(now), func() {
		m.syncMu.Lock()
		m.trailing = nil
		m.syncMu.Unlock()
		m.publishState()
	})
	m.syncMu.Unlock()
}

func (m *Manager) publishState() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	var p statePayload
	switch m.state {
	case StateValid, StateExpiringSoon, StateRefreshing:
		if m.token == "" {
			m.mu.Unlock()
			return
		}
		p = statePayload{Token: m.token, State: StateValid.String()}
	case StateExpired:
		p = statePayload{State: StateExpired.String()}
	case StateRevoked:
		p = statePayload{State: StateRevoked.String()}
	default:
		m.mu.Unlock()
		return
	}
	ts := m.lastRefresh
	m.mu.Unlock()

	data, err := broadcast.Encode(p)
	if err != nil {
		m.logger.Error("sync.encode_failed", zap.Error(err))
		return
	}
	m.publish(m.stateChannel, broadcast.KindState, data, ts)
}

func (m *Manager) publishAction(action string) {
	if !m.syncing() {
		return
	}
	data, err := broadcast.Encode(actionPayload{Action: action})
	if err != nil {
		m.logger.Error("sync.encode_failed", zap.Error(err))
		return
	}
	m.publish(m.actionChannel, broadcast.KindAction, data, m.clock.Now())
}

func (m *Manager) publish(channel string, kind broadcast.Kind, payload []byte, ts time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Sync.PublishTimeout)
	defer cancel()

	msg := broadcast.Message{
		ContextID: m.contextID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: ts.UnixMilli(),
	}
	if err := m.bus.Publish(ctx, channel, msg); err != nil {
		m.logger.Warn("sync.publish_failed", zap.String("channel", channel), zap.Error(err))
		return
	}
	m.counters.published.Add(1)
	m.metrics.Inc(MetricSyncPublished)
}

// onStateMessage adopts a sibling's Valid token or propagates its
// revocation when the message is newer than our last refresh.
func (m *Manager) onStateMessage(msg broadcast.Message) {
	if msg.ContextID == m.contextID {
		return
	}

	var p statePayload
	if err := broadcast.Decode(msg.Payload, &p); err != nil {
		m.logger.Debug("sync.message_dropped", zap.Error(err))
		return
	}
	state, ok := parseTokenState(p.State)
	if !ok {
		m.logger.Debug("sync.message_dropped", zap.String("state", p.State))
		return
	}
	ts := time.UnixMilli(msg.Timestamp)

	var claims *jwt.Claims
	if state == StateValid {
		c, err := m.decode(p.Token)
		if err != nil {
			m.logger.Debug("sync.undecodable_token", zap.Error(err))
			return
		}
		claims = c
	}

	fx := effects{remote: true}
	m.mu.Lock()
	if m.closed || !ts.After(m.lastRefresh) {
		m.mu.Unlock()
		return
	}

	switch state {
	case StateValid:
		if !m.clock.Now().Before(claims.ExpiresAt) {
			break
		}
		m.installTokenLocked(p.Token, claims, ts, &fx)
		m.counters.adopted.Add(1)
		m.metrics.Inc(MetricSyncAdopted)
		fx.events = append(fx.events, Event{
			Kind:      EventSyncAdopted,
			Time:      m.clock.Now(),
			State:     m.state,
			Remote:    true,
			ContextID: msg.ContextID,
		})
		m.logger.Debug("sync.adopted", zap.String("from", msg.ContextID))
	case StateRevoked:
		if m.state != StateRevoked {
			m.revokeLocked(&fx)
			m.counters.revoked.Add(1)
			m.metrics.Inc(MetricSyncRevoked)
		}
	}
	m.mu.Unlock()
	m.flush(&fx)
}

func (m *Manager) onActionMessage(msg broadcast.Message) {
	if msg.ContextID == m.contextID {
		return
	}

	var p actionPayload
	if err := broadcast.Decode(msg.Payload, &p); err != nil {
		m.logger.Debug("sync.message_dropped", zap.Error(err))
		return
	}

	switch p.Action {
	case actionRevokeToken:
		fx := effects{remote: true}
		m.mu.Lock()
		if !m.closed && m.state != StateRevoked {
			m.revokeLocked(&fx)
			m.counters.revoked.Add(1)
			m.metrics.Inc(MetricSyncRevoked)
			m.logger.Info("sync.revoked", zap.String("from", msg.ContextID))
		}
		m.mu.Unlock()
		m.flush(&fx)

	case actionRefreshRequested:
		m.mu.Lock()
		if !m.closed && m.debounceTimer == nil && m.inflight == nil &&
			(m.state == StateValid || m.state == StateExpiringSoon) {
			since := m.lastRefresh
			m.debounceTimer = m.after(m.cfg.Sync.RefreshDebounce, func() { m.onDebouncedRefresh(since) })
		}
		m.mu.Unlock()
	}
}

// onDebouncedRefresh refreshes on behalf of a sibling unless a newer token
// arrived in the meantime.
func (m *Manager) onDebouncedRefresh(since time.Time) {
	var fx effects
	m.mu.Lock()
	m.debounceTimer = nil
	if !m.closed && !m.lastRefresh.After(since) && m.inflight == nil &&
		(m.state == StateValid || m.state == StateExpiringSoon) {
		m.queueRefreshLocked(nil, PriorityLow, originRemote, &fx)
	}
	m.mu.Unlock()
	m.flush(&fx)
}
