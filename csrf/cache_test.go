package csrf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/clock"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type countingFetcher struct {
	calls atomic.Int32
	ttl   time.Duration
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context) (*Token, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &Token{Value: fmt.Sprintf("csrf-%d", n), ExpiresIn: f.ttl}, nil
}

func newTestCache(t *testing.T, f Fetcher, clk clock.Clock, bus broadcast.Bus) *Cache {
	t.Helper()

	c, err := New(Config{Clock: clk, Bus: bus}, f)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCacheReturnsCachedTokenUntilExpiry(t *testing.T) {
	clk := clock.Fake(epoch)
	f := &countingFetcher{ttl: 10 * time.Minute}
	c := newTestCache(t, f, clk, nil)
	ctx := context.Background()

	first, err := c.GetToken(ctx, false)
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}
	again, _ := c.GetToken(ctx, false)
	if again != first || f.calls.Load() != 1 {
		t.Fatalf("expected cached token, got %q after %d calls", again, f.calls.Load())
	}

	clk.Advance(9*time.Minute + 30*time.Second)
	if !c.Snapshot().IsExpiringSoon {
		t.Fatal("expected token to be expiring soon")
	}

	clk.Advance(30 * time.Second)
	next, _ := c.GetToken(ctx, false)
	if next == first || f.calls.Load() != 2 {
		t.Fatalf("expected refetch after expiry, got %q after %d calls", next, f.calls.Load())
	}

	forced, _ := c.GetToken(ctx, true)
	if forced == next || f.calls.Load() != 3 {
		t.Fatalf("force did not refetch, got %q", forced)
	}
}

func TestCacheConcurrentMissesShareOneFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	f := FetcherFunc(func(ctx context.Context) (*Token, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return &Token{Value: "shared", ExpiresIn: time.Minute}, nil
	})
	c := newTestCache(t, f, clock.Real(), nil)

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.GetToken(context.Background(), false)
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected one fetch, got %d", calls.Load())
	}
	for i, r := range results {
		if r != "shared" {
			t.Fatalf("caller %d got %q", i, r)
		}
	}
}

func TestCacheBreakerOpensAfterFailures(t *testing.T) {
	f := &countingFetcher{err: errors.New("boom")}
	c := newTestCache(t, f, clock.Real(), nil)

	for i := 0; i < 3; i++ {
		if _, err := c.GetToken(context.Background(), false); err == nil {
			t.Fatal("expected fetch error")
		}
	}

	_, err := c.GetToken(context.Background(), false)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if f.calls.Load() != 3 {
		t.Fatalf("open breaker still called fetcher: %d calls", f.calls.Load())
	}
}

func TestCacheSyncAcrossContexts(t *testing.T) {
	clk := clock.Fake(epoch)
	bus := broadcast.NewMemoryBus()
	fa := &countingFetcher{ttl: 5 * time.Minute}
	fb := &countingFetcher{ttl: 5 * time.Minute}
	a := newTestCache(t, fa, clk, bus)
	b := newTestCache(t, fb, clk, bus)
	ctx := context.Background()

	clk.Advance(time.Second)
	tok, err := a.GetToken(ctx, false)
	if err != nil {
		t.Fatalf("GetToken failed: %v", err)
	}

	snap := b.Snapshot()
	if snap.Token != tok || !snap.Expiry.Equal(clk.Now().Add(5*time.Minute)) {
		t.Fatalf("sibling did not adopt token: %+v", snap)
	}
	if got, _ := b.GetToken(ctx, false); got != tok || fb.calls.Load() != 0 {
		t.Fatalf("sibling fetched instead of using adopted token")
	}

	// A stale message is ignored.
	stale, _ := broadcast.Encode(syncPayload{Token: "old"})
	_ = bus.Publish(ctx, "csrf", broadcast.Message{ContextID: "other", Payload: stale, Timestamp: epoch.UnixMilli()})
	if b.Snapshot().Token != tok {
		t.Fatal("stale message overwrote newer token")
	}

	clk.Advance(time.Second)
	a.Clear(ctx)
	if b.Snapshot().Token != "" {
		t.Fatal("clear did not propagate")
	}
}

func TestCacheStartAdoptsLatest(t *testing.T) {
	clk := clock.Fake(epoch)
	bus := broadcast.NewMemoryBus()
	a := newTestCache(t, &countingFetcher{ttl: time.Minute}, clk, bus)

	clk.Advance(time.Second)
	tok, _ := a.GetToken(context.Background(), false)

	late := newTestCache(t, &countingFetcher{}, clk, bus)
	if late.Snapshot().Token != tok {
		t.Fatal("late context did not bootstrap from last write")
	}
	if late.Snapshot().ContextID == a.Snapshot().ContextID {
		t.Fatal("contexts share an id")
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/csrf":
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "abc", "expiresInSeconds": 120})
		case "/empty":
			_ = json.NewEncoder(w).Encode(map[string]any{"expiresInSeconds": 120})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	tok, err := (&HTTPFetcher{URL: srv.URL + "/csrf"}).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if tok.Value != "abc" || tok.ExpiresIn != 2*time.Minute {
		t.Fatalf("unexpected token %+v", tok)
	}

	if _, err := (&HTTPFetcher{URL: srv.URL + "/empty"}).Fetch(context.Background()); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
	if _, err := (&HTTPFetcher{URL: srv.URL + "/fail"}).Fetch(context.Background()); !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
}
