package goSession

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherDeliversByKind(t *testing.T) {
	subs := &subscribers{}
	d := newEventDispatcher(EventsConfig{BufferSize: 8}, subs)

	var all, expired atomic.Int64
	subs.add(EventAny, func(Event) { all.Add(1) })
	subs.add(EventExpired, func(Event) { expired.Add(1) })

	d.Emit(Event{Kind: EventStateChanged})
	d.Emit(Event{Kind: EventExpired})
	d.Close()

	if all.Load() != 2 {
		t.Fatalf("expected 2 events for EventAny, got %d", all.Load())
	}
	if expired.Load() != 1 {
		t.Fatalf("expected 1 expired event, got %d", expired.Load())
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	subs := &subscribers{}
	gate := make(chan struct{})
	subs.add(EventAny, func(Event) { <-gate })

	d := newEventDispatcher(EventsConfig{BufferSize: 1, DropIfFull: true}, subs)

	// One event blocks in the handler, one fills the buffer.
	d.Emit(Event{Kind: EventRefreshed})
	deadline := time.Now().Add(time.Second)
	for d.backlog() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Emit(Event{Kind: EventRefreshed})
	d.Emit(Event{Kind: EventRefreshed})

	if got := d.Dropped(); got != 1 {
		t.Fatalf("expected 1 dropped event, got %d", got)
	}

	close(gate)
	d.Close()
}

func TestDispatcherNeverDropsExpiryOrRevocation(t *testing.T) {
	subs := &subscribers{}
	gate := make(chan struct{})
	var kinds []EventKind
	subs.add(EventAny, func(e Event) {
		<-gate
		kinds = append(kinds, e.Kind)
	})

	d := newEventDispatcher(EventsConfig{BufferSize: 1, DropIfFull: true}, subs)

	d.Emit(Event{Kind: EventRefreshed})
	deadline := time.Now().Add(time.Second)
	for d.backlog() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Emit(Event{Kind: EventStateChanged})
	d.Emit(Event{Kind: EventExpired})
	d.Emit(Event{Kind: EventRefreshFailed})
	d.Emit(Event{Kind: EventRevoked})

	if got := d.Dropped(); got != 1 {
		t.Fatalf("expected only the refresh failure dropped, got %d drops", got)
	}

	close(gate)
	d.Close()

	want := []EventKind{EventRefreshed, EventStateChanged, EventExpired, EventRevoked}
	if len(kinds) != len(want) {
		t.Fatalf("delivered %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("delivered %v, want %v", kinds, want)
		}
	}
}

func TestDispatcherIgnoresEmitAfterClose(t *testing.T) {
	subs := &subscribers{}
	var n atomic.Int64
	subs.add(EventAny, func(Event) { n.Add(1) })

	d := newEventDispatcher(EventsConfig{BufferSize: 4}, subs)
	d.Close()
	d.Emit(Event{Kind: EventRevoked})

	if n.Load() != 0 {
		t.Fatalf("expected no delivery after close, got %d", n.Load())
	}
}
