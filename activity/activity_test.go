package activity

import (
	"testing"
	"time"

	"github.com/MrEthical07/goSession/clock"
)

func TestEffectiveThreshold(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name       string
		inactivity time.Duration
		want       float64
	}{
		{name: "fresh", inactivity: 0, want: 0.75},
		{name: "at cutoff", inactivity: DefaultIdleAfter, want: 0.75},
		{name: "idle", inactivity: DefaultIdleAfter + time.Second, want: 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveThreshold(tt.inactivity, p); got != tt.want {
				t.Fatalf("EffectiveThreshold(%v) = %v, want %v", tt.inactivity, got, tt.want)
			}
		})
	}
}

func TestRefreshOffsetForHourToken(t *testing.T) {
	lifetime := time.Hour
	if got := RefreshOffset(lifetime, 0.75); got != 2700*time.Second {
		t.Fatalf("active offset = %v, want 2700s", got)
	}
	if got := RefreshOffset(lifetime, 0.6); got != 2160*time.Second {
		t.Fatalf("idle offset = %v, want 2160s", got)
	}
	if got := RefreshOffset(0, 0.75); got != 0 {
		t.Fatalf("zero lifetime offset = %v, want 0", got)
	}
}

func TestTrackerInactivity(t *testing.T) {
	c := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	tr := NewTracker(c)

	c.Advance(10 * time.Minute)
	if got := tr.Inactivity(); got != 10*time.Minute {
		t.Fatalf("inactivity = %v, want 10m", got)
	}

	tr.Touch()
	c.Advance(time.Second)
	if got := tr.Inactivity(); got != time.Second {
		t.Fatalf("inactivity after touch = %v, want 1s", got)
	}
}
