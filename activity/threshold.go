package activity

import (
	"math"
	"time"
)

const (
	DefaultActiveThreshold = 0.75
	DefaultIdleThreshold   = 0.6
	DefaultIdleAfter       = 5 * time.Minute
)

// Policy selects the fraction of a token's lifetime after which a refresh is
// due. Idle sessions refresh earlier.
type Policy struct {
	Active    float64
	Idle      float64
	IdleAfter time.Duration
}

// DefaultPolicy returns the 0.75 / 0.6 policy with a five minute idle cutoff.
func DefaultPolicy() Policy {
	return Policy{
		Active:    DefaultActiveThreshold,
		Idle:      DefaultIdleThreshold,
		IdleAfter: DefaultIdleAfter,
	}
}

// EffectiveThreshold returns p.Idle when inactivity strictly exceeds
// p.IdleAfter and p.Active otherwise.
func EffectiveThreshold(inactivity time.Duration, p Policy) float64 {
	if p.IdleAfter > 0 && inactivity > p.IdleAfter {
		return p.Idle
	}
	return p.Active
}

// RefreshOffset returns how long after issuance a token with the given
// lifetime should be refreshed.
func RefreshOffset(lifetime time.Duration, threshold float64) time.Duration {
	if lifetime <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(lifetime) * threshold))
}
