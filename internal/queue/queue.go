package queue

import (
	"sort"
	"time"
)

// Entry is one queued request. Higher Priority values drain first.
type Entry[T any] struct {
	Priority  int
	Timestamp time.Time
	Value     T

	seq uint64
}

// Queue is a bounded FIFO-evicting priority queue. It is not safe for
// concurrent use; the owner serializes access.
type Queue[T any] struct {
	max   int
	next  uint64
	items []Entry[T]
}

// New returns a Queue holding at most max entries. max <= 0 means unbounded.
func New[T any](max int) *Queue[T] {
	return &Queue[T]{max: max}
}

// Push appends e. When the queue is full the oldest entry is removed and
// returned with evicted=true.
func (q *Queue[T]) Push(e Entry[T]) (old Entry[T], evicted bool) {
	q.next++
	e.seq = q.next
	if q.max > 0 && len(q.items) >= q.max {
		old = q.items[0]
		q.items = append(q.items[:0], q.items[1:]...)
		evicted = true
	}
	q.items = append(q.items, e)
	return old, evicted
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int { return len(q.items) }

// Drain removes and returns every entry in drain order.
func (q *Queue[T]) Drain() []Entry[T] {
	out := q.items
	q.items = nil
	sortEntries(out)
	return out
}

func sortEntries[T any](entries []Entry[T]) {
	sort.SliceStable(entries, func(i, j int) bool {
		return before(entries[i], entries[j])
	})
}

func before[T any](a, b Entry[T]) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.seq < b.seq
}
