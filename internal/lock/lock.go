package lock

import (
	"sync"
	"time"

	"github.com/MrEthical07/goSession/clock"
	"github.com/google/uuid"
)

// State is a point-in-time copy of the lock.
type State struct {
	Locked   bool
	ID       string
	LockTime time.Time
	Timeout  time.Duration
	Stale    bool
}

// Lock is a try-lock with staleness reclamation.
type Lock struct {
	mu       sync.Mutex
	clock    clock.Clock
	timeout  time.Duration
	locked   bool
	id       string
	lockTime time.Time
	reclaims uint64
}

// New returns an unlocked Lock.
func New(timeout time.Duration, c clock.Clock) *Lock {
	return &Lock{clock: c, timeout: timeout}
}

// TryAcquire takes the lock if it is free or stale and returns the new
// lock id. It never blocks.
func (l *Lock) TryAcquire() (id string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if l.locked {
		if !l.staleLocked(now) {
			return "", false
		}
		l.reclaims++
	}

	l.locked = true
	l.id = uuid.NewString()
	l.lockTime = now
	return l.id, true
}

// Release frees the lock if id still owns it. A holder whose lock was
// reclaimed gets false and leaves the new owner untouched.
func (l *Lock) Release(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked || l.id != id {
		return false
	}
	l.locked = false
	l.id = ""
	l.lockTime = time.Time{}
	return true
}

// Held reports whether a non-stale lock exists.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked && !l.staleLocked(l.clock.Now())
}

// Reclaims returns how many stale locks were taken over.
func (l *Lock) Reclaims() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reclaims
}

// Snapshot returns the current state.
func (l *Lock) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		Locked:   l.locked,
		ID:       l.id,
		LockTime: l.lockTime,
		Timeout:  l.timeout,
		Stale:    l.locked && l.staleLocked(l.clock.Now()),
	}
}

func (l *Lock) staleLocked(now time.Time) bool {
	return now.Sub(l.lockTime) > l.timeout
}
