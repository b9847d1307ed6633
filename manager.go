package goSession

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/activity"
	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/clock"
	"github.com/MrEthical07/goSession/internal/breaker"
	"github.com/MrEthical07/goSession/internal/lock"
	"github.com/MrEthical07/goSession/internal/queue"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/refresh"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Refresher exchanges the out-of-band refresh credential for a new bearer
// token. [refresh.Client] implements it.
type Refresher interface {
	Refresh(ctx context.Context, req refresh.Request) (*refresh.Result, error)
}

// Verifier asks the backend whether a bearer token is still accepted.
// [refresh.Client] implements it.
type Verifier interface {
	Verify(ctx context.Context, token string) error
}

// Decoder extracts issuance and expiry from a bearer token. The default is
// [jwt.Decode].
type Decoder func(raw string) (*jwt.Claims, error)

// Manager owns the bearer token of one execution context. All methods are
// safe for concurrent use. Construct it with [Builder.Build].
type Manager struct {
	cfg       Config
	clock     clock.Clock
	logger    *zap.Logger
	refresher Refresher
	verifier  Verifier
	decode    Decoder
	tracker   *activity.Tracker
	policy    activity.Policy
	bus       broadcast.Bus
	metrics   *Metrics
	breaker   *breaker.Breaker
	lock      *lock.Lock
	subs      *subscribers
	events    *eventDispatcher
	contextID string

	baseCtx context.Context
	cancel  context.CancelFunc

	stateChannel  string
	actionChannel string
	syncMu        sync.Mutex
	limiter       *rate.Limiter
	trailing      *clock.Timer
	busSubs       []broadcast.Subscription

	counters counters

	mu            sync.Mutex
	closed        bool
	state         TokenState
	token         string
	claims        *jwt.Claims
	tokenGen      uint64
	lastRefresh   time.Time
	lastCallAt    time.Time
	lastErr       error
	nextRefreshAt time.Time
	refreshTimer  *clock.Timer
	expiringTimer *clock.Timer
	expiryTimer   *clock.Timer
	drainTimer    *clock.Timer
	debounceTimer *clock.Timer
	inflight      *flight
	queue         *queue.Queue[*waiter]
	maxQueueDepth int
	avgLatency    time.Duration
}

type counters struct {
	attempts  atomic.Uint64
	success   atomic.Uint64
	failures  atomic.Uint64
	coalesced atomic.Uint64
	evicted   atomic.Uint64
	adopted   atomic.Uint64
	revoked   atomic.Uint64
	published atomic.Uint64
}

// ContextID returns the random identifier of this execution context.
func (m *Manager) ContextID() string { return m.contextID }

// InitializeToken installs raw as the current token. An undecodable token
// moves the manager to StateError and returns ErrInvalidToken; an already
// expired one moves it to StateExpired, arms no timer and returns
// ErrExpiredToken.
func (m *Manager) InitializeToken(ctx context.Context, raw string) error {
	claims, decodeErr := m.decode(raw)

	var fx effects
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errClosed()
	}

	var err error
	switch {
	case decodeErr != nil:
		m.stopTokenTimersLocked()
		m.tokenGen++
		m.token, m.claims = "", nil
		err = newError(CodeInvalidToken, "token could not be decoded", decodeErr)
		m.lastErr = err
		m.setStateLocked(StateError, &fx)
	default:
		m.installTokenLocked(raw, claims, m.clock.Now(), &fx)
		if m.state == StateExpired {
			err = newError(CodeExpiredToken, "token already expired", nil)
			m.lastErr = err
		}
	}
	m.mu.Unlock()

	m.flush(&fx)
	if err != nil {
		m.logger.Info("token.initialize_rejected", zap.Error(err))
	}
	return err
}

// Token returns the current bearer token when one is usable: present,
// unexpired, and not revoked. A token whose last refresh failed stays
// usable until it expires.
func (m *Manager) Token() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTokenLocked()
}

func (m *Manager) currentTokenLocked() (string, bool) {
	if m.token == "" || m.claims == nil {
		return "", false
	}
	switch m.state {
	case StateRevoked, StateExpired, StateInitializing:
		return "", false
	}
	if !m.clock.Now().Before(m.claims.ExpiresAt) {
		return "", false
	}
	return m.token, true
}

// IsTokenValid reports whether [Manager.Token] would return a token.
func (m *Manager) IsTokenValid() bool {
	_, ok := m.Token()
	return ok
}

// IsTokenExpiringSoon reports whether a usable token has less than the
// expiring threshold left.
func (m *Manager) IsTokenExpiringSoon() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.currentTokenLocked(); !ok {
		return false
	}
	return m.state == StateExpiringSoon ||
		m.claims.ExpiresAt.Sub(m.clock.Now()) < m.cfg.Refresh.ExpiringThreshold
}

// TimeToExpiration returns the remaining lifetime of the current token, or
// zero when there is none.
func (m *Manager) TimeToExpiration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeToExpirationLocked()
}

func (m *Manager) timeToExpirationLocked() time.Duration {
	if m.claims == nil || m.token == "" {
		return 0
	}
	d := m.claims.ExpiresAt.Sub(m.clock.Now())
	if d < 0 {
		return 0
	}
	return d
}

// State returns the current token state.
func (m *Manager) State() TokenState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RecordActivity marks the user as active now. The next refresh timer is
// armed with the active threshold.
func (m *Manager) RecordActivity() {
	m.tracker.Touch()
}

// Subscribe registers h for events of kind (EventAny for all). The returned
// function removes the subscription.
func (m *Manager) Subscribe(kind EventKind, h EventHandler) (unsubscribe func()) {
	id := m.subs.add(kind, h)
	var once sync.Once
	return func() {
		once.Do(func() { m.subs.remove(id) })
	}
}

// VerifyToken asks the configured Verifier whether the current token is
// still accepted. A 401/403 moves the manager to StateExpired.
func (m *Manager) VerifyToken(ctx context.Context) error {
	if m.verifier == nil {
		return ErrNoVerifier
	}

	m.mu.Lock()
	token, ok := m.currentTokenLocked()
	gen := m.tokenGen
	m.mu.Unlock()
	if !ok {
		return newError(CodeExpiredToken, "no valid token to verify", nil)
	}

	err := m.verifier.Verify(ctx, token)
	if err == nil {
		return nil
	}

	e := classifyRefreshError(err)
	if e.Code == CodeUnauthorized {
		var fx effects
		m.mu.Lock()
		if gen == m.tokenGen && m.state != StateRevoked && !m.closed {
			m.stopTokenTimersLocked()
			m.lastErr = e
			m.setStateLocked(StateExpired, &fx)
		}
		m.mu.Unlock()
		m.flush(&fx)
	}
	return e
}

// Stats returns refresh telemetry.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	depth := m.queue.Len()
	maxDepth := m.maxQueueDepth
	avg := m.avgLatency
	last := m.lastRefresh
	m.mu.Unlock()

	return Stats{
		RefreshAttempts: m.counters.attempts.Load(),
		RefreshSuccess:  m.counters.success.Load(),
		RefreshFailures: m.counters.failures.Load(),
		AverageLatency:  avg,
		LastRefreshAt:   last,
		QueueDepth:      depth,
		MaxQueueDepth:   maxDepth,
		Coalesced:       m.counters.coalesced.Load(),
		Evicted:         m.counters.evicted.Load(),
		BreakerTrips:    m.breaker.Trips(),
		LockReclaims:    m.lock.Reclaims(),
		EventsDropped:   m.events.Dropped(),
		SyncAdopted:     m.counters.adopted.Load(),
		SyncRevoked:     m.counters.revoked.Load(),
		SyncPublished:   m.counters.published.Load(),
	}
}

// TokenStatus returns a point-in-time view of the token and its guards.
func (m *Manager) TokenStatus() TokenStatus {
	br := m.breaker.Snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()

	st := TokenStatus{
		State:            m.state,
		TimeToExpiration: m.timeToExpirationLocked(),
		NextRefreshAt:    m.nextRefreshAt,
		LastRefreshAt:    m.lastRefresh,
		IsRefreshing:     m.inflight != nil,
		LastError:        m.lastErr,
		ContextID:        m.contextID,
		QueueDepth:       m.queue.Len(),
		BreakerTripped:   br.Tripped,
		BreakerResetAt:   br.ResetAt,
		ConsecutiveFails: br.ConsecutiveFailures,
		LockHeld:         m.lock.Held(),
	}
	if m.claims != nil {
		st.Subject = m.claims.Subject
		st.IssuedAt = m.claims.IssuedAt
		st.ExpiresAt = m.claims.ExpiresAt
	}
	return st
}

// MetricsSnapshot returns the manager's counters for exporters.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// EventsDropped returns the number of events dropped by a full dispatcher.
func (m *Manager) EventsDropped() uint64 {
	return m.events.Dropped()
}

// Close stops all timers, leaves the broadcast bus, rejects pending
// refresh callers and waits for queued events to be delivered. It must not
// be called from an event handler.
func (m *Manager) Close() error {
	var fx effects

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopTokenTimersLocked()
	if m.drainTimer != nil {
		m.drainTimer.Stop()
		m.drainTimer = nil
	}
	if m.debounceTimer != nil {
		m.debounceTimer.Stop()
		m.debounceTimer = nil
	}
	for _, e := range m.queue.Drain() {
		fx.reject(e.Value, errClosed())
	}
	if f := m.inflight; f != nil {
		for _, w := range f.waiters {
			fx.reject(w, errClosed())
		}
		f.waiters = nil
	}
	m.mu.Unlock()

	m.flush(&fx)
	m.cancel()

	m.syncMu.Lock()
	if m.trailing != nil {
		m.trailing.Stop()
		m.trailing = nil
	}
	subs := m.busSubs
	m.busSubs = nil
	m.syncMu.Unlock()

	var firstErr error
	for _, s := range subs {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.events.Close()
	m.logger.Debug("manager.closed")
	return firstErr
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func errClosed() *Error {
	return newError(CodeRefreshFailed, "manager closed", ErrManagerClosed)
}

// after schedules f on the manager clock. A non-positive delay runs f on a
// new goroutine so callers holding m.mu never re-enter it.
func (m *Manager) after(d time.Duration, f func()) *clock.Timer {
	if d <= 0 {
		go f()
		return &clock.Timer{}
	}
	return m.clock.AfterFunc(d, f)
}
