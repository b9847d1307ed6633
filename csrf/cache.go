package csrf

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/clock"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const fetchKey = "csrf"

// Config configures a Cache. Zero values take the defaults noted per field.
type Config struct {
	// ContextID identifies this execution context on the bus. Random if empty.
	ContextID string
	// ExpiringThreshold marks the token as expiring soon. Default 60s.
	ExpiringThreshold time.Duration
	// DefaultTTL applies when the endpoint reports no lifetime. Default 30m.
	DefaultTTL time.Duration
	// Channel is the bus channel. Default "csrf".
	Channel string
	// MaxFailures consecutive fetch failures open the breaker. Default 3.
	MaxFailures int
	// BreakerTimeout is how long the breaker stays open. Default 30s.
	BreakerTimeout time.Duration

	Clock  clock.Clock
	Bus    broadcast.Bus
	Logger *zap.Logger
}

// Snapshot is the debug view of a Cache.
type Snapshot struct {
	Token          string
	Expiry         time.Time
	IsExpiringSoon bool
	ContextID      string
}

type syncPayload struct {
	Token     string `cbor:"1,keyasint,omitempty"`
	ExpiresAt int64  `cbor:"2,keyasint"`
}

// Cache holds the current anti-forgery token. Safe for concurrent use.
type Cache struct {
	cfg     Config
	fetcher Fetcher
	clock   clock.Clock
	bus     broadcast.Bus
	logger  *zap.Logger
	group   singleflight.Group
	breaker *gobreaker.CircuitBreaker

	mu        sync.RWMutex
	token     string
	expiry    time.Time
	updatedAt time.Time
	sub       broadcast.Subscription
}

// New returns a Cache using f to obtain tokens.
func New(cfg Config, f Fetcher) (*Cache, error) {
	if f == nil {
		return nil, errors.New("csrf fetcher is required")
	}
	if cfg.ContextID == "" {
		cfg.ContextID = uuid.NewString()
	}
	if cfg.ExpiringThreshold <= 0 {
		cfg.ExpiringThreshold = 60 * time.Second
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * time.Minute
	}
	if cfg.Channel == "" {
		cfg.Channel = "csrf"
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Cache{
		cfg:     cfg,
		fetcher: f,
		clock:   cfg.Clock,
		bus:     cfg.Bus,
		logger:  cfg.Logger.With(zap.String("component", "csrf"), zap.String("context_id", cfg.ContextID)),
	}

	maxFailures := uint32(cfg.MaxFailures)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "csrf-fetch",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("csrf.breaker_state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return c, nil
}

// Start subscribes to sibling updates. Without a bus it is a no-op.
func (c *Cache) Start(ctx context.Context) error {
	if c.bus == nil {
		return nil
	}
	sub, err := c.bus.Subscribe(ctx, c.cfg.Channel, c.apply)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	if msg, ok, err := c.bus.Latest(ctx, c.cfg.Channel); err == nil && ok {
		c.apply(msg)
	}
	return nil
}

// Close stops receiving sibling updates.
func (c *Cache) Close() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Close()
}

// GetToken returns the cached token, fetching a new one when the cache is
// empty, expired or force is set.
func (c *Cache) GetToken(ctx context.Context, force bool) (string, error) {
	if !force {
		c.mu.RLock()
		token, expiry := c.token, c.expiry
		c.mu.RUnlock()
		if token != "" && c.clock.Now().Before(expiry) {
			return token, nil
		}
	}

	ch := c.group.DoChan(fetchKey, func() (interface{}, error) {
		return c.fetch(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Cache) fetch(ctx context.Context) (string, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetcher.Fetch(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		c.logger.Warn("csrf.fetch_failed", zap.Error(err))
		return "", err
	}

	tok := out.(*Token)
	ttl := tok.ExpiresIn
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}

	now := c.clock.Now()
	expiry := now.Add(ttl)

	c.mu.Lock()
	c.token = tok.Value
	c.expiry = expiry
	c.updatedAt = now
	c.mu.Unlock()

	c.publish(ctx, tok.Value, expiry, now)
	return tok.Value, nil
}

// Clear drops the cached token here and in sibling contexts.
func (c *Cache) Clear(ctx context.Context) {
	now := c.clock.Now()

	c.mu.Lock()
	c.token = ""
	c.expiry = time.Time{}
	c.updatedAt = now
	c.mu.Unlock()

	c.publish(ctx, "", time.Time{}, now)
}

// Snapshot returns the debug view of the cache.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Token:          c.token,
		Expiry:         c.expiry,
		IsExpiringSoon: c.token != "" && c.expiry.Sub(c.clock.Now()) < c.cfg.ExpiringThreshold,
		ContextID:      c.cfg.ContextID,
	}
}

// BreakerState reports the fetch breaker's state.
func (c *Cache) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Cache) publish(ctx context.Context, token string, expiry, now time.Time) {
	if c.bus == nil {
		return
	}

	payload := syncPayload{Token: token}
	if !expiry.IsZero() {
		payload.ExpiresAt = expiry.UnixMilli()
	}
	data, err := broadcast.Encode(payload)
	if err != nil {
		c.logger.Error("csrf.encode_failed", zap.Error(err))
		return
	}

	msg := broadcast.Message{
		ContextID: c.cfg.ContextID,
		Kind:      broadcast.KindState,
		Payload:   data,
		Timestamp: now.UnixMilli(),
	}
	if err := c.bus.Publish(ctx, c.cfg.Channel, msg); err != nil {
		c.logger.Warn("csrf.publish_failed", zap.Error(err))
	}
}

// apply adopts a sibling's token when it is newer than ours.
func (c *Cache) apply(msg broadcast.Message) {
	if msg.ContextID == c.cfg.ContextID {
		return
	}

	var p syncPayload
	if err := broadcast.Decode(msg.Payload, &p); err != nil {
		c.logger.Debug("csrf.sync_dropped", zap.Error(err))
		return
	}

	ts := time.UnixMilli(msg.Timestamp)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !ts.After(c.updatedAt) {
		return
	}
	c.token = p.Token
	c.expiry = time.Time{}
	if p.ExpiresAt != 0 {
		c.expiry = time.UnixMilli(p.ExpiresAt)
	}
	c.updatedAt = ts
}
