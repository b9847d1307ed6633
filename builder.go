package goSession

import (
	"context"
	"sync"

	"github.com/MrEthical07/goSession/activity"
	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/clock"
	"github.com/MrEthical07/goSession/internal/breaker"
	"github.com/MrEthical07/goSession/internal/lock"
	"github.com/MrEthical07/goSession/internal/queue"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Builder assembles a [Manager]. Configure it during initialization; Build
// returns the same Manager on every call until that Manager is closed.
type Builder struct {
	config    Config
	clock     clock.Clock
	logger    *zap.Logger
	refresher Refresher
	verifier  Verifier
	bus       broadcast.Bus
	tracker   *activity.Tracker
	decoder   Decoder
	contextID string

	mu      sync.Mutex
	manager *Manager
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithClock sets the time source. Tests pass a [clock.FakeClock].
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithRefresher sets the backend that mints new tokens. Required.
func (b *Builder) WithRefresher(r Refresher) *Builder {
	b.refresher = r
	return b
}

func (b *Builder) WithVerifier(v Verifier) *Builder {
	b.verifier = v
	return b
}

// WithBus connects the Manager to its sibling contexts. Without a bus the
// Manager runs standalone.
func (b *Builder) WithBus(bus broadcast.Bus) *Builder {
	b.bus = bus
	return b
}

// WithTracker shares an activity tracker, typically with the UI layer that
// records user input.
func (b *Builder) WithTracker(t *activity.Tracker) *Builder {
	b.tracker = t
	return b
}

func (b *Builder) WithDecoder(d Decoder) *Builder {
	b.decoder = d
	return b
}

// WithContextID pins the context identifier instead of generating one.
func (b *Builder) WithContextID(id string) *Builder {
	b.contextID = id
	return b
}

// Build validates the configuration and returns the Manager. With a bus
// configured and sync enabled it subscribes to the state and action
// channels before returning.
func (b *Builder) Build() (*Manager, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.manager != nil && !b.manager.isClosed() {
		return b.manager, nil
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.refresher == nil {
		return nil, ErrNoRefresher
	}

	clk := b.clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	decode := b.decoder
	if decode == nil {
		decode = jwt.Decode
	}
	tracker := b.tracker
	if tracker == nil {
		tracker = activity.NewTracker(clk)
	}
	contextID := b.contextID
	if contextID == "" {
		contextID = uuid.NewString()
	}

	subs := &subscribers{}
	baseCtx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:       cfg,
		clock:     clk,
		logger:    logger.With(zap.String("context_id", contextID)),
		refresher: b.refresher,
		verifier:  b.verifier,
		decode:    decode,
		tracker:   tracker,
		policy: activity.Policy{
			Active:    cfg.Refresh.Threshold,
			Idle:      cfg.Refresh.IdleThreshold,
			IdleAfter: cfg.Refresh.IdleAfter,
		},
		bus:     b.bus,
		metrics: NewMetrics(cfg.Metrics),
		breaker: breaker.New(breaker.Config{
			FailureThreshold:    cfg.Breaker.FailureThreshold,
			Timeout:             cfg.Breaker.Timeout,
			SuspiciousThreshold: cfg.Breaker.SuspiciousThreshold,
			Window:              cfg.Breaker.Window,
		}, clk),
		lock:      lock.New(cfg.Refresh.LockTimeout, clk),
		subs:      subs,
		events:    newEventDispatcher(cfg.Events, subs),
		contextID: contextID,
		baseCtx:   baseCtx,
		cancel:    cancel,

		stateChannel:  cfg.Sync.ChannelPrefix + ":state",
		actionChannel: cfg.Sync.ChannelPrefix + ":action",
		limiter:       rate.NewLimiter(rate.Every(cfg.Sync.BroadcastInterval), 1),

		state: StateInitializing,
		queue: queue.New[*waiter](cfg.Refresh.QueueMaxSize),
	}

	if err := m.subscribeBus(baseCtx); err != nil {
		_ = m.Close()
		return nil, newError(CodeNetworkError, "subscribe to broadcast bus", err)
	}

	m.logger.Debug("manager.built", zap.Bool("sync", m.syncing()))
	b.manager = m
	return m, nil
}
