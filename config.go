package goSession

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable of a [Manager]. Start from [DefaultConfig]
// and override fields; [Builder.Build] validates the result.
type Config struct {
	Refresh RefreshConfig
	Breaker BreakerConfig
	Sync    SyncConfig
	Device  DeviceConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls scheduling, queueing and locking of refreshes.
type RefreshConfig struct {
	// Threshold is the fraction of the token lifetime after which the
	// proactive refresh fires.
	Threshold float64
	// IdleThreshold replaces Threshold once the user has been inactive
	// for longer than IdleAfter.
	IdleThreshold float64
	IdleAfter     time.Duration
	// MinInterval is the minimum spacing between two refresh calls.
	// Requests arriving sooner are queued.
	MinInterval  time.Duration
	QueueMaxSize int
	// LockTimeout after which a held refresh lock is considered stale.
	LockTimeout time.Duration
	// WaitTimeout bounds how long a RefreshToken caller waits for the
	// outcome once its request is attached to a refresh call. Time spent
	// queued is not counted.
	WaitTimeout time.Duration
	// ExpiringThreshold is the remaining lifetime below which the token is
	// reported as expiring soon.
	ExpiringThreshold time.Duration
	// AutoRefresh arms the proactive refresh timer.
	AutoRefresh bool
}

// BreakerConfig controls the refresh circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	Timeout          time.Duration
	// SuspiciousThreshold is the number of refresh attempts per Window
	// above which the breaker trips regardless of outcome.
	SuspiciousThreshold int
	Window              time.Duration
}

/*
====================================
SYNC CONFIG
====================================
*/

// SyncConfig controls cross-context synchronization over the [broadcast.Bus].
type SyncConfig struct {
	Enabled bool
	// ChannelPrefix namespaces the state and action channels.
	ChannelPrefix string
	// BroadcastInterval is the minimum spacing of state broadcasts.
	BroadcastInterval time.Duration
	// RefreshDebounce delays the opportunistic refresh performed on a
	// sibling's REFRESH_REQUESTED action.
	RefreshDebounce time.Duration
	PublishTimeout  time.Duration
}

// DeviceConfig is sent with each refresh request so the backend can size
// the next token's lifetime.
type DeviceConfig struct {
	Class      string
	RememberMe bool
}

// MetricsConfig toggles counters and the refresh latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// EventsConfig controls the event dispatcher.
type EventsConfig struct {
	BufferSize int
	DropIfFull bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Refresh: RefreshConfig{
			Threshold:         0.75,
			IdleThreshold:     0.6,
			IdleAfter:         5 * time.Minute,
			MinInterval:       5 * time.Second,
			QueueMaxSize:      10,
			LockTimeout:       5 * time.Second,
			WaitTimeout:       5 * time.Second,
			ExpiringThreshold: 60 * time.Second,
			AutoRefresh:       true,
		},
		Breaker: BreakerConfig{
			FailureThreshold:    5,
			Timeout:             60 * time.Second,
			SuspiciousThreshold: 10,
			Window:              time.Minute,
		},
		Sync: SyncConfig{
			Enabled:           true,
			ChannelPrefix:     "gosession",
			BroadcastInterval: time.Second,
			RefreshDebounce:   2 * time.Second,
			PublishTimeout:    2 * time.Second,
		},
		Device: DeviceConfig{
			Class: "desktop",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Events: EventsConfig{
			BufferSize: 64,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	// Refresh
	if c.Refresh.Threshold <= 0 || c.Refresh.Threshold >= 1 {
		return errors.New("Refresh Threshold must be in (0, 1)")
	}
	if c.Refresh.IdleThreshold <= 0 || c.Refresh.IdleThreshold >= 1 {
		return errors.New("Refresh IdleThreshold must be in (0, 1)")
	}
	if c.Refresh.IdleAfter <= 0 {
		return errors.New("Refresh IdleAfter must be > 0")
	}
	if c.Refresh.MinInterval < 0 {
		return errors.New("Refresh MinInterval must be >= 0")
	}
	if c.Refresh.QueueMaxSize <= 0 {
		return errors.New("Refresh QueueMaxSize must be > 0")
	}
	if c.Refresh.LockTimeout <= 0 {
		return errors.New("Refresh LockTimeout must be > 0")
	}
	if c.Refresh.WaitTimeout <= 0 {
		return errors.New("Refresh WaitTimeout must be > 0")
	}
	if c.Refresh.ExpiringThreshold < 0 {
		return errors.New("Refresh ExpiringThreshold must be >= 0")
	}

	// Breaker
	if c.Breaker.FailureThreshold <= 0 {
		return errors.New("Breaker FailureThreshold must be > 0")
	}
	if c.Breaker.Timeout <= 0 {
		return errors.New("Breaker Timeout must be > 0")
	}
	if c.Breaker.SuspiciousThreshold <= 0 {
		return errors.New("Breaker SuspiciousThreshold must be > 0")
	}
	if c.Breaker.Window <= 0 {
		return errors.New("Breaker Window must be > 0")
	}

	// Sync
	if c.Sync.Enabled {
		if strings.TrimSpace(c.Sync.ChannelPrefix) == "" {
			return errors.New("Sync ChannelPrefix must not be empty")
		}
		if c.Sync.BroadcastInterval <= 0 {
			return errors.New("Sync BroadcastInterval must be > 0")
		}
		if c.Sync.RefreshDebounce < 0 {
			return errors.New("Sync RefreshDebounce must be >= 0")
		}
		if c.Sync.PublishTimeout <= 0 {
			return errors.New("Sync PublishTimeout must be > 0")
		}
	}

	if c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0")
	}

	return nil
}

/*
====================================
ENVIRONMENT
====================================
*/

// ConfigFromEnv overlays environment variables named prefix_FIELD onto
// the defaults, e.g. GOSESSION_REFRESH_THRESHOLD=0.8. An empty prefix means
// "GOSESSION". Unset or unparsable values keep the default.
func ConfigFromEnv(prefix string) Config {
	if prefix == "" {
		prefix = "GOSESSION"
	}
	key := func(name string) string { return prefix + "_" + name }

	cfg := defaultConfig()

	cfg.Refresh.Threshold = envFloat(key("REFRESH_THRESHOLD"), cfg.Refresh.Threshold)
	cfg.Refresh.IdleThreshold = envFloat(key("REFRESH_IDLE_THRESHOLD"), cfg.Refresh.IdleThreshold)
	cfg.Refresh.IdleAfter = envDuration(key("REFRESH_IDLE_AFTER"), cfg.Refresh.IdleAfter)
	cfg.Refresh.MinInterval = envDuration(key("REFRESH_MIN_INTERVAL"), cfg.Refresh.MinInterval)
	cfg.Refresh.QueueMaxSize = envInt(key("REFRESH_QUEUE_MAX_SIZE"), cfg.Refresh.QueueMaxSize)
	cfg.Refresh.LockTimeout = envDuration(key("REFRESH_LOCK_TIMEOUT"), cfg.Refresh.LockTimeout)
	cfg.Refresh.WaitTimeout = envDuration(key("REFRESH_WAIT_TIMEOUT"), cfg.Refresh.WaitTimeout)
	cfg.Refresh.ExpiringThreshold = envDuration(key("REFRESH_EXPIRING_THRESHOLD"), cfg.Refresh.ExpiringThreshold)
	cfg.Refresh.AutoRefresh = envBool(key("REFRESH_AUTO"), cfg.Refresh.AutoRefresh)

	cfg.Breaker.FailureThreshold = envInt(key("BREAKER_FAILURE_THRESHOLD"), cfg.Breaker.FailureThreshold)
	cfg.Breaker.Timeout = envDuration(key("BREAKER_TIMEOUT"), cfg.Breaker.Timeout)
	cfg.Breaker.SuspiciousThreshold = envInt(key("BREAKER_SUSPICIOUS_THRESHOLD"), cfg.Breaker.SuspiciousThreshold)
	cfg.Breaker.Window = envDuration(key("BREAKER_WINDOW"), cfg.Breaker.Window)

	cfg.Sync.Enabled = envBool(key("SYNC_ENABLED"), cfg.Sync.Enabled)
	cfg.Sync.ChannelPrefix = envString(key("SYNC_CHANNEL_PREFIX"), cfg.Sync.ChannelPrefix)
	cfg.Sync.BroadcastInterval = envDuration(key("SYNC_BROADCAST_INTERVAL"), cfg.Sync.BroadcastInterval)
	cfg.Sync.RefreshDebounce = envDuration(key("SYNC_REFRESH_DEBOUNCE"), cfg.Sync.RefreshDebounce)
	cfg.Sync.PublishTimeout = envDuration(key("SYNC_PUBLISH_TIMEOUT"), cfg.Sync.PublishTimeout)

	cfg.Device.Class = envString(key("DEVICE_CLASS"), cfg.Device.Class)
	cfg.Device.RememberMe = envBool(key("DEVICE_REMEMBER_ME"), cfg.Device.RememberMe)

	cfg.Metrics.Enabled = envBool(key("METRICS_ENABLED"), cfg.Metrics.Enabled)
	cfg.Metrics.EnableLatencyHistograms = envBool(key("METRICS_LATENCY_HISTOGRAMS"), cfg.Metrics.EnableLatencyHistograms)

	cfg.Events.BufferSize = envInt(key("EVENTS_BUFFER_SIZE"), cfg.Events.BufferSize)
	cfg.Events.DropIfFull = envBool(key("EVENTS_DROP_IF_FULL"), cfg.Events.DropIfFull)

	return cfg
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}
