package broadcast

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/sealer"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRedisBusLatestIsLastWriteWins(t *testing.T) {
	_, rdb := newTestRedis(t)
	bus := NewRedisBus(rdb, RedisConfig{Prefix: "test"})
	ctx := context.Background()

	if _, ok, err := bus.Latest(ctx, "state"); err != nil || ok {
		t.Fatalf("expected empty channel, ok=%v err=%v", ok, err)
	}

	for _, ts := range []int64{5, 7} {
		if err := bus.Publish(ctx, "state", Message{ContextID: "a", Kind: KindState, Timestamp: ts}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	msg, ok, err := bus.Latest(ctx, "state")
	if err != nil || !ok {
		t.Fatalf("Latest failed: ok=%v err=%v", ok, err)
	}
	if msg.Timestamp != 7 || msg.Kind != KindState {
		t.Fatalf("unexpected latest message %+v", msg)
	}
}

func TestRedisBusSubscribeReceivesPublishedMessages(t *testing.T) {
	_, rdb := newTestRedis(t)
	bus := NewRedisBus(rdb, RedisConfig{Prefix: "test"})
	ctx := context.Background()

	received := make(chan Message, 4)
	sub, err := bus.Subscribe(ctx, "action", func(m Message) { received <- m })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	want := Message{ContextID: "ctx-a", Kind: KindAction, Payload: []byte("REVOKE_TOKEN"), Timestamp: 42}
	if err := bus.Publish(ctx, "action", want); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.ContextID != want.ContextID || string(got.Payload) != "REVOKE_TOKEN" || got.Timestamp != 42 {
			t.Fatalf("unexpected message %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestRedisBusSealsStoredValue(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s, err := sealer.NewAESGCM("shared-secret")
	if err != nil {
		t.Fatalf("NewAESGCM failed: %v", err)
	}
	bus := NewRedisBus(rdb, RedisConfig{Prefix: "test", Sealer: s, TTL: time.Hour})
	ctx := context.Background()

	if err := bus.Publish(ctx, "state", Message{ContextID: "ctx-a", Payload: []byte("eyJ.secret.token")}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	raw, err := mr.Get("test:last:state")
	if err != nil {
		t.Fatalf("miniredis Get failed: %v", err)
	}
	if strings.Contains(raw, "secret") || strings.Contains(raw, "ctx-a") {
		t.Fatal("stored value is not sealed")
	}
	if ttl := mr.TTL("test:last:state"); ttl <= 0 {
		t.Fatalf("expected TTL on stored value, got %v", ttl)
	}

	msg, ok, err := bus.Latest(ctx, "state")
	if err != nil || !ok {
		t.Fatalf("Latest failed: ok=%v err=%v", ok, err)
	}
	if string(msg.Payload) != "eyJ.secret.token" {
		t.Fatalf("unexpected payload %q", msg.Payload)
	}

	foreign := NewRedisBus(rdb, RedisConfig{Prefix: "test", Sealer: sealer.Nop{}})
	if _, _, err := foreign.Latest(ctx, "state"); err == nil {
		t.Fatal("expected decode failure without the sealing key")
	}
}

func TestRedisBusUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	bus := NewRedisBus(rdb, RedisConfig{})
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bus.Publish(ctx, "state", Message{}); err == nil {
		t.Fatal("expected publish to fail when redis is down")
	}
}
