package broadcast

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus. Publish stores the message as the
// channel's latest value and then invokes every live handler synchronously,
// in subscription order, after releasing the bus lock.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[string][]*memorySub
	latest map[string]Message
}

type memorySub struct {
	bus     *MemoryBus
	channel string
	handler Handler
	closed  bool
}

// NewMemoryBus returns an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:   make(map[string][]*memorySub),
		latest: make(map[string]Message),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, channel string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.latest[channel] = cloneMessage(msg)
	subs := make([]*memorySub, len(b.subs[channel]))
	copy(subs, b.subs[channel])
	b.mu.Unlock()

	for _, s := range subs {
		if s.isClosed() {
			continue
		}
		s.handler(cloneMessage(msg))
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, channel string, h Handler) (Subscription, error) {
	s := &memorySub{bus: b, channel: channel, handler: h}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], s)
	b.mu.Unlock()
	return s, nil
}

func (b *MemoryBus) Latest(_ context.Context, channel string) (Message, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg, ok := b.latest[channel]
	if !ok {
		return Message{}, false, nil
	}
	return cloneMessage(msg), true, nil
}

func (s *memorySub) isClosed() bool {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.closed
}

func (s *memorySub) Close() error {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	list := b.subs[s.channel]
	for i, other := range list {
		if other == s {
			b.subs[s.channel] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func cloneMessage(msg Message) Message {
	if msg.Payload != nil {
		p := make([]byte, len(msg.Payload))
		copy(p, msg.Payload)
		msg.Payload = p
	}
	return msg
}
