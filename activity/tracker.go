package activity

import (
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/clock"
)

// Tracker records the most recent interaction. The zero value is not usable;
// construct with [NewTracker].
type Tracker struct {
	clock    clock.Clock
	lastSeen atomic.Int64 // unix nanos
}

// NewTracker returns a Tracker whose last interaction is "now".
func NewTracker(c clock.Clock) *Tracker {
	if c == nil {
		c = clock.Real()
	}
	t := &Tracker{clock: c}
	t.lastSeen.Store(c.Now().UnixNano())
	return t
}

// Touch records an interaction at the current time.
func (t *Tracker) Touch() {
	t.lastSeen.Store(t.clock.Now().UnixNano())
}

// LastActivity returns the time of the most recent interaction.
func (t *Tracker) LastActivity() time.Time {
	return time.Unix(0, t.lastSeen.Load())
}

// Inactivity returns how long it has been since the last interaction.
// It never returns a negative duration.
func (t *Tracker) Inactivity() time.Duration {
	d := t.clock.Now().Sub(t.LastActivity())
	if d < 0 {
		return 0
	}
	return d
}
