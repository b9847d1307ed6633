package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/csrf"
	promexport "github.com/MrEthical07/goSession/metrics/export/prometheus"
	"github.com/MrEthical07/goSession/middleware"
	"github.com/MrEthical07/goSession/refresh"
	"github.com/MrEthical07/goSession/sealer"
	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type options struct {
	contexts    int
	requests    int
	concurrency int
	tokenTTL    time.Duration
	rotateEvery time.Duration
	redisAddr   string
	passphrase  string
	metricsAddr string
	revoke      bool
	verbose     bool
}

// execContext is one simulated execution context: a manager, its
// anti-forgery cache and an HTTP client wired through the transport.
type execContext struct {
	manager *goSession.Manager
	csrf    *csrf.Cache
	client  *http.Client
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var opts options
	flagSet := pflag.NewFlagSet("gosession-loadtest", pflag.ContinueOnError)
	flagSet.IntVar(&opts.contexts, "contexts", 8, "number of execution contexts sharing one session")
	flagSet.IntVar(&opts.requests, "requests", 2000, "total resource requests")
	flagSet.IntVar(&opts.concurrency, "concurrency", 32, "number of concurrent workers")
	flagSet.DurationVar(&opts.tokenTTL, "token-ttl", 30*time.Second, "lifetime of issued bearer tokens")
	flagSet.DurationVar(&opts.rotateEvery, "rotate-every", 2*time.Second, "invalidate all tokens this often to force 401s (0 disables)")
	flagSet.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	flagSet.StringVar(&opts.passphrase, "passphrase", os.Getenv("GOSESSION_SEAL_PASSPHRASE"), "passphrase sealing shared state (empty disables sealing)")
	flagSet.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	flagSet.BoolVar(&opts.revoke, "revoke", true, "revoke from one context at the end and check propagation")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "development logging")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.contexts <= 0 || opts.requests <= 0 || opts.concurrency <= 0 {
		return errors.New("contexts, requests, and concurrency must be > 0")
	}

	logger, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, cleanup, err := openRedis(opts.redisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	var seal sealer.Sealer = sealer.Nop{}
	if opts.passphrase != "" {
		s, err := sealer.NewAESGCM(opts.passphrase)
		if err != nil {
			return err
		}
		seal = s
	}
	bus := broadcast.NewRedisBus(client, broadcast.RedisConfig{
		Prefix: "gosession-loadtest",
		TTL:    opts.tokenTTL * 2,
		Sealer: seal,
	})

	be, err := newBackend(opts.tokenTTL)
	if err != nil {
		return err
	}
	defer be.Close()

	contexts, err := buildContexts(ctx, opts, be, bus, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range contexts {
			_ = c.csrf.Close()
			_ = c.manager.Close()
		}
	}()

	if opts.metricsAddr != "" {
		stop, err := serveMetrics(opts.metricsAddr, contexts, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	if _, err := contexts[0].manager.RefreshToken(ctx, goSession.PriorityHigh); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}
	waitConverged(contexts, 2*time.Second)

	if opts.rotateEvery > 0 {
		go rotate(ctx, be, opts.rotateEvery)
	}

	res := runRequests(ctx, contexts, be.URL(), opts.requests, opts.concurrency)
	cancel()

	converged := waitConverged(contexts, 2*time.Second)

	fmt.Println("---- results ----")
	printStats("requests", res)
	fmt.Printf("backend: refresh_calls=%d csrf_issued=%d\n", be.refreshes.Load(), be.csrfIssue.Load())
	printManagerStats(contexts)
	fmt.Printf("converged: %v\n", converged)

	if opts.revoke {
		fmt.Printf("revocation propagated: %v\n", checkRevoke(contexts))
	}
	return nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func buildContexts(ctx context.Context, opts options, be *backend, bus broadcast.Bus, logger *zap.Logger) ([]*execContext, error) {
	cfg := goSession.ConfigFromEnv("GOSESSION")
	// Rotations invalidate every context at once; let the burst through.
	cfg.Refresh.MinInterval = 0
	cfg.Breaker.SuspiciousThreshold = 1000

	refresher, err := refresh.NewClient(refresh.Config{BaseURL: be.URL()})
	if err != nil {
		return nil, err
	}

	out := make([]*execContext, 0, opts.contexts)
	for i := 0; i < opts.contexts; i++ {
		id := fmt.Sprintf("ctx-%02d", i)
		log := logger.With(zap.Int("worker_context", i))

		m, err := goSession.New().
			WithConfig(cfg).
			WithLogger(log).
			WithRefresher(refresher).
			WithVerifier(refresher).
			WithBus(bus).
			WithContextID(id).
			Build()
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", id, err)
		}

		cache, err := csrf.New(csrf.Config{
			ContextID: id,
			Bus:       bus,
			Channel:   "gosession-loadtest:csrf",
			Logger:    log,
		}, &csrf.HTTPFetcher{URL: be.URL() + "/csrf"})
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		if err := cache.Start(ctx); err != nil {
			_ = m.Close()
			return nil, err
		}

		tr := middleware.NewTransport(m, middleware.Config{
			CSRF:     cache,
			Priority: goSession.PriorityNormal,
			Logger:   log,
		})
		out = append(out, &execContext{manager: m, csrf: cache, client: tr.Client()})
	}
	return out, nil
}

func serveMetrics(addr string, contexts []*execContext, logger *zap.Logger) (func(), error) {
	collectors := make([]prometheus.Collector, 0, len(contexts))
	for _, c := range contexts {
		collectors = append(collectors, promexport.NewCollectorFromSource(c.manager, prometheus.Labels{"context_id": c.manager.ContextID()}))
	}
	h, err := promexport.Handler(collectors...)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics.serve_failed", zap.Error(err))
		}
	}()
	return func() { _ = srv.Close() }, nil
}

func rotate(ctx context.Context, be *backend, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			be.Rotate()
		}
	}
}

type result struct {
	total     time.Duration
	latencies []time.Duration
	statuses  map[int]int64
	failures  int64
}

func runRequests(ctx context.Context, contexts []*execContext, baseURL string, total, concurrency int) result {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, total)
		statuses  = make(map[int]int64)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= total {
					return
				}
				ec := contexts[r.Intn(len(contexts))]

				method := http.MethodGet
				if r.Intn(4) == 0 {
					method = http.MethodPost
				}
				req, err := http.NewRequestWithContext(ctx, method, baseURL+"/api/items", strings.NewReader("{}"))
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}

				t0 := time.Now()
				resp, err := ec.client.Do(req)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				_ = resp.Body.Close()
				ec.manager.RecordActivity()

				mu.Lock()
				latencies = append(latencies, d)
				statuses[resp.StatusCode]++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	return result{total: time.Since(start), latencies: latencies, statuses: statuses, failures: failures}
}

// waitConverged polls until every context holds the same valid token.
func waitConverged(contexts []*execContext, within time.Duration) bool {
	deadline := time.Now().Add(within)
	for {
		if converged(contexts) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		for _, c := range contexts {
			_ = c.manager.SyncFromPeers(context.Background())
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func converged(contexts []*execContext) bool {
	first, ok := contexts[0].manager.Token()
	if !ok {
		return false
	}
	for _, c := range contexts[1:] {
		if tok, ok := c.manager.Token(); !ok || tok != first {
			return false
		}
	}
	return true
}

func checkRevoke(contexts []*execContext) bool {
	if err := contexts[0].manager.RevokeToken(context.Background()); err != nil {
		return false
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		all := true
		for _, c := range contexts {
			if c.manager.State() != goSession.StateRevoked {
				all = false
				break
			}
		}
		if all {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

func printStats(name string, r result) {
	sort.Slice(r.latencies, func(i, j int) bool { return r.latencies[i] < r.latencies[j] })

	codes := make([]int, 0, len(r.statuses))
	for code := range r.statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, fmt.Sprintf("%d=%d", code, r.statuses[code]))
	}

	var opsPerS float64
	if r.total > 0 {
		opsPerS = float64(len(r.latencies)) / r.total.Seconds()
	}
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s statuses=[%s]\n",
		name,
		len(r.latencies),
		r.failures,
		r.total.Round(time.Millisecond),
		opsPerS,
		percentile(r.latencies, 50).Round(time.Microsecond),
		percentile(r.latencies, 95).Round(time.Microsecond),
		percentile(r.latencies, 99).Round(time.Microsecond),
		strings.Join(parts, " "),
	)
}

func printManagerStats(contexts []*execContext) {
	var agg goSession.Stats
	for _, c := range contexts {
		s := c.manager.Stats()
		agg.RefreshAttempts += s.RefreshAttempts
		agg.RefreshSuccess += s.RefreshSuccess
		agg.RefreshFailures += s.RefreshFailures
		agg.Coalesced += s.Coalesced
		agg.BreakerTrips += s.BreakerTrips
		agg.LockReclaims += s.LockReclaims
		agg.SyncAdopted += s.SyncAdopted
		agg.SyncPublished += s.SyncPublished
	}
	fmt.Printf("managers: attempts=%d success=%d failures=%d coalesced=%d breaker_trips=%d lock_reclaims=%d adopted=%d published=%d\n",
		agg.RefreshAttempts,
		agg.RefreshSuccess,
		agg.RefreshFailures,
		agg.Coalesced,
		agg.BreakerTrips,
		agg.LockReclaims,
		agg.SyncAdopted,
		agg.SyncPublished,
	)
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}
