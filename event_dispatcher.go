package goSession

import (
	"sync"
	"sync/atomic"
)

// eventDispatcher delivers events to subscribers on one goroutine, in
// emission order. At most BufferSize events wait for delivery; beyond that
// an emitter blocks, or with DropIfFull the event is counted and dropped.
// Expired and Revoked events are always queued.
type eventDispatcher struct {
	cfg  EventsConfig
	subs *subscribers

	mu      sync.Mutex
	space   *sync.Cond
	pending []Event
	closed  bool

	wake      chan struct{}
	stopped   chan struct{}
	dropped   atomic.Uint64
	closeOnce sync.Once
}

func newEventDispatcher(cfg EventsConfig, subs *subscribers) *eventDispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	d := &eventDispatcher{
		cfg:     cfg,
		subs:    subs,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	d.space = sync.NewCond(&d.mu)

	go d.run()
	return d
}

// mustDeliver reports whether k ends the usable life of the token. Those
// events are never dropped or delayed by backpressure.
func (k EventKind) mustDeliver() bool {
	return k == EventExpired || k == EventRevoked
}

func (d *eventDispatcher) run() {
	defer close(d.stopped)

	for {
		d.mu.Lock()
		for len(d.pending) == 0 && !d.closed {
			d.mu.Unlock()
			<-d.wake
			d.mu.Lock()
		}
		batch := d.pending
		d.pending = nil
		done := d.closed && len(batch) == 0
		d.space.Broadcast()
		d.mu.Unlock()

		if done {
			return
		}
		for _, e := range batch {
			d.subs.deliver(e)
		}
	}
}

func (d *eventDispatcher) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *eventDispatcher) Emit(event Event) {
	if d == nil {
		return
	}

	d.mu.Lock()
	for !d.closed && len(d.pending) >= d.cfg.BufferSize && !event.Kind.mustDeliver() {
		if d.cfg.DropIfFull {
			d.mu.Unlock()
			d.dropped.Add(1)
			return
		}
		d.space.Wait()
	}
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, event)
	d.mu.Unlock()
	d.notify()
}

// backlog returns the number of events not yet picked up for delivery.
func (d *eventDispatcher) backlog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close stops accepting events and waits until queued ones are delivered.
func (d *eventDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.space.Broadcast()
		d.mu.Unlock()
		d.notify()
		<-d.stopped
	})
}

func (d *eventDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
