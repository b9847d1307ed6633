package broadcast

import (
	"context"
	"testing"
)

func TestMemoryBusDeliversAndStoresLatest(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var got []Message
	sub, err := bus.Subscribe(ctx, "state", func(m Message) { got = append(got, m) })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if _, ok, _ := bus.Latest(ctx, "state"); ok {
		t.Fatal("expected no latest value before first publish")
	}

	first := Message{ContextID: "a", Kind: KindState, Payload: []byte{1}, Timestamp: 10}
	second := Message{ContextID: "b", Kind: KindState, Payload: []byte{2}, Timestamp: 20}
	if err := bus.Publish(ctx, "state", first); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := bus.Publish(ctx, "state", second); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(got) != 2 || got[0].ContextID != "a" || got[1].ContextID != "b" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}

	latest, ok, err := bus.Latest(ctx, "state")
	if err != nil || !ok {
		t.Fatalf("Latest failed: ok=%v err=%v", ok, err)
	}
	if latest.Timestamp != 20 {
		t.Fatalf("expected last write to win, got %+v", latest)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_ = bus.Publish(ctx, "state", first)
	if len(got) != 2 {
		t.Fatalf("closed subscription still received messages: %d", len(got))
	}
}

func TestMemoryBusChannelsAreIsolated(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	calls := 0
	if _, err := bus.Subscribe(ctx, "action", func(Message) { calls++ }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	_ = bus.Publish(ctx, "state", Message{ContextID: "a"})
	if calls != 0 {
		t.Fatalf("handler on other channel invoked %d times", calls)
	}
}

func TestMemoryBusHandlerGetsPrivateCopy(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	if _, err := bus.Subscribe(ctx, "c", func(m Message) { m.Payload[0] = 9 }); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	_ = bus.Publish(ctx, "c", Message{Payload: []byte{1}})

	latest, _, _ := bus.Latest(ctx, "c")
	if latest.Payload[0] != 1 {
		t.Fatal("handler mutation leaked into stored message")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, err := Encode(map[string]int{"b": 2, "a": 1})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	b, err := Encode(map[string]int{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(a) != string(b) {
		t.Fatal("expected identical encodings for equal maps")
	}
}
