package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/sealer"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport failures talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// RedisConfig configures a RedisBus.
type RedisConfig struct {
	// Prefix namespaces keys and pub/sub channels, e.g. the application name.
	Prefix string
	// TTL bounds how long the last written value is kept. Zero keeps it
	// until overwritten.
	TTL time.Duration
	// Sealer encodes messages before they reach Redis. Nil means Nop.
	Sealer sealer.Sealer
}

// RedisBus implements Bus on top of Redis. Publish is one MULTI/EXEC
// carrying SET (last-write-wins storage) and PUBLISH (notification).
type RedisBus struct {
	redis  redis.UniversalClient
	prefix string
	ttl    time.Duration
	sealer sealer.Sealer
}

// NewRedisBus returns a RedisBus using client.
func NewRedisBus(client redis.UniversalClient, cfg RedisConfig) *RedisBus {
	if cfg.Prefix == "" {
		cfg.Prefix = "gs"
	}
	if cfg.Sealer == nil {
		cfg.Sealer = sealer.Nop{}
	}
	return &RedisBus{
		redis:  client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		sealer: cfg.Sealer,
	}
}

func (b *RedisBus) storeKey(channel string) string {
	return b.prefix + ":last:" + channel
}

func (b *RedisBus) pubsubChannel(channel string) string {
	return b.prefix + ":chan:" + channel
}

func (b *RedisBus) Publish(ctx context.Context, channel string, msg Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	sealed, err := b.sealer.Seal(string(data))
	if err != nil {
		return err
	}

	_, err = b.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.storeKey(channel), sealed, b.ttl)
		pipe.Publish(ctx, b.pubsubChannel(channel), sealed)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (b *RedisBus) Latest(ctx context.Context, channel string) (Message, bool, error) {
	sealed, err := b.redis.Get(ctx, b.storeKey(channel)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Message{}, false, nil
		}
		return Message{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	msg, err := b.open(sealed)
	if err != nil {
		return Message{}, false, err
	}
	return msg, true, nil
}

// Subscribe blocks until Redis confirms the subscription, then delivers
// messages to h on a dedicated goroutine in arrival order. Messages that
// fail to open or decode are dropped.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	ps := b.redis.Subscribe(ctx, b.pubsubChannel(channel))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sub := &redisSub{ps: ps, done: make(chan struct{})}
	ch := ps.Channel()

	go func() {
		defer close(sub.done)
		for m := range ch {
			msg, err := b.open(m.Payload)
			if err != nil {
				continue
			}
			h(msg)
		}
	}()

	return sub, nil
}

func (b *RedisBus) open(sealed string) (Message, error) {
	plain, err := b.sealer.Open(sealed)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrCorruptMessage, err)
	}
	return decodeMessage([]byte(plain))
}

type redisSub struct {
	ps        *redis.PubSub
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Close unsubscribes and waits for the delivery goroutine to exit.
func (s *redisSub) Close() error {
	s.closeOnce.Do(func() {
		s.err = s.ps.Close()
		<-s.done
	})
	return s.err
}
