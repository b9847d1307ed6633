package goSession

import (
	"sync"
	"time"
)

// EventKind classifies manager notifications.
type EventKind uint8

const (
	// EventAny subscribes to every kind.
	EventAny EventKind = iota
	EventStateChanged
	// EventExpiring fires on each entry into StateExpiringSoon.
	EventExpiring
	// EventExpired fires on each entry into StateExpired.
	EventExpired
	EventRefreshed
	EventRefreshFailed
	EventRevoked
	EventBreakerTripped
	// EventSyncAdopted fires when a sibling context's token is adopted.
	EventSyncAdopted
)

func (k EventKind) String() string {
	switch k {
	case EventAny:
		return "any"
	case EventStateChanged:
		return "state_changed"
	case EventExpiring:
		return "expiring"
	case EventExpired:
		return "expired"
	case EventRefreshed:
		return "refreshed"
	case EventRefreshFailed:
		return "refresh_failed"
	case EventRevoked:
		return "revoked"
	case EventBreakerTripped:
		return "breaker_tripped"
	case EventSyncAdopted:
		return "sync_adopted"
	default:
		return "unknown"
	}
}

// Event is one manager notification. Fields that do not apply to Kind are
// zero.
type Event struct {
	Kind     EventKind
	Time     time.Time
	State    TokenState
	Previous TokenState
	// SecondsRemaining is set for EventExpiring.
	SecondsRemaining int64
	// ResetAt is set for EventBreakerTripped.
	ResetAt time.Time
	Err     error
	// Remote is true when the change was applied from a sibling context.
	Remote    bool
	ContextID string
}

// EventHandler receives events on the manager's dispatcher goroutine, one
// at a time and in emission order. Handlers must not block.
type EventHandler func(Event)

type subscriber struct {
	id   uint64
	kind EventKind
	fn   EventHandler
}

type subscribers struct {
	mu   sync.RWMutex
	next uint64
	list []subscriber
}

func (s *subscribers) add(kind EventKind, fn EventHandler) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.list = append(s.list, subscriber{id: s.next, kind: kind, fn: fn})
	return s.next
}

func (s *subscribers) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.list {
		if sub.id == id {
			s.list = append(s.list[:i:i], s.list[i+1:]...)
			return
		}
	}
}

func (s *subscribers) deliver(e Event) {
	s.mu.RLock()
	list := s.list
	s.mu.RUnlock()

	for _, sub := range list {
		if sub.kind == EventAny || sub.kind == e.Kind {
			sub.fn(e)
		}
	}
}
