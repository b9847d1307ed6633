package breaker

import (
	"sync"
	"time"

	"github.com/MrEthical07/goSession/clock"
)

// Reason records why the breaker last tripped.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonFailures Reason = "consecutive_failures"
	ReasonAbuse    Reason = "suspicious_pattern"
)

// Config holds breaker tuning parameters.
type Config struct {
	FailureThreshold    int
	Timeout             time.Duration
	SuspiciousThreshold int
	Window              time.Duration
}

// State is a point-in-time copy of the breaker.
type State struct {
	ConsecutiveFailures int
	Tripped             bool
	ResetAt             time.Time
	Reason              Reason
	RecentAttempts      int
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	clock  clock.Clock
	trips  uint64
	failed int

	tripped  bool
	resetAt  time.Time
	reason   Reason
	attempts []time.Time
}

// New returns a closed Breaker.
func New(cfg Config, c clock.Clock) *Breaker {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Breaker{cfg: cfg, clock: c}
}

// Check reports whether the breaker is currently open without recording an
// attempt. When open it returns the reset time.
func (b *Breaker) Check() (resetAt time.Time, open bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireLocked(b.clock.Now())
	return b.resetAt, b.tripped
}

// Attempt records an attempt about to reach the backend. It returns
// allowed=false when the breaker is open or when this attempt pushed the
// sliding window over the suspicious threshold; in the latter case
// trippedNow is true.
func (b *Breaker) Attempt() (allowed bool, trippedNow bool, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.expireLocked(now)
	if b.tripped {
		return false, false, b.resetAt
	}

	b.pruneLocked(now)
	b.attempts = append(b.attempts, now)
	if b.cfg.SuspiciousThreshold > 0 && len(b.attempts) > b.cfg.SuspiciousThreshold {
		b.tripLocked(now, ReasonAbuse)
		return false, true, b.resetAt
	}
	return true, false, time.Time{}
}

// Success resets the consecutive failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failed = 0
	b.mu.Unlock()
}

// Failure records a failed attempt and reports whether it tripped the
// breaker.
func (b *Breaker) Failure() (trippedNow bool, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failed++
	if b.tripped || b.cfg.FailureThreshold <= 0 || b.failed < b.cfg.FailureThreshold {
		return false, time.Time{}
	}
	b.tripLocked(b.clock.Now(), ReasonFailures)
	return true, b.resetAt
}

// Reset closes the breaker and forgets all history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.resetLocked()
	b.mu.Unlock()
}

// Trips returns how many times the breaker has tripped.
func (b *Breaker) Trips() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

// Snapshot returns the current state.
func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.expireLocked(now)
	b.pruneLocked(now)
	return State{
		ConsecutiveFailures: b.failed,
		Tripped:             b.tripped,
		ResetAt:             b.resetAt,
		Reason:              b.reason,
		RecentAttempts:      len(b.attempts),
	}
}

func (b *Breaker) tripLocked(now time.Time, reason Reason) {
	b.tripped = true
	b.resetAt = now.Add(b.cfg.Timeout)
	b.reason = reason
	b.trips++
}

func (b *Breaker) expireLocked(now time.Time) {
	if b.tripped && !now.Before(b.resetAt) {
		b.resetLocked()
	}
}

func (b *Breaker) resetLocked() {
	b.tripped = false
	b.resetAt = time.Time{}
	b.reason = ReasonNone
	b.failed = 0
	b.attempts = b.attempts[:0]
}

// pruneLocked drops attempts that fell out of the sliding window.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for i < len(b.attempts) && !b.attempts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.attempts = append(b.attempts[:0], b.attempts[i:]...)
	}
}
