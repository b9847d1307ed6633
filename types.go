package goSession

import "time"

// TokenState is the lifecycle state of the current bearer token.
type TokenState uint8

const (
	StateInitializing TokenState = iota
	StateValid
	StateExpiringSoon
	StateRefreshing
	StateExpired
	StateError
	StateRevoked
)

func (s TokenState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateValid:
		return "valid"
	case StateExpiringSoon:
		return "expiring_soon"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	case StateError:
		return "error"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

func parseTokenState(s string) (TokenState, bool) {
	for st := StateInitializing; st <= StateRevoked; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// Priority orders queued refresh requests. Higher values drain first.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// TokenStatus is a point-in-time view of the manager returned by
// [Manager.TokenStatus].
type TokenStatus struct {
	State            TokenState
	Subject          string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	TimeToExpiration time.Duration
	NextRefreshAt    time.Time
	LastRefreshAt    time.Time
	IsRefreshing     bool
	LastError        error

	ContextID        string
	QueueDepth       int
	BreakerTripped   bool
	BreakerResetAt   time.Time
	ConsecutiveFails int
	LockHeld         bool
}

// Stats is read-only refresh telemetry returned by [Manager.Stats].
type Stats struct {
	RefreshAttempts uint64
	RefreshSuccess  uint64
	RefreshFailures uint64
	// AverageLatency is the rolling mean over successful refreshes.
	AverageLatency   time.Duration
	LastRefreshAt    time.Time
	QueueDepth       int
	MaxQueueDepth    int
	Coalesced        uint64
	Evicted          uint64
	BreakerTrips     uint64
	LockReclaims     uint64
	EventsDropped    uint64
	SyncAdopted      uint64
	SyncRevoked      uint64
	SyncPublished    uint64
}
