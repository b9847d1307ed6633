package goSession

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/broadcast"
	"github.com/MrEthical07/goSession/clock"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/refresh"
)

var testEpoch = time.Unix(1_700_000_000, 0)

const testTTL = time.Hour

// fakeBackend mints HS256 tokens on the fake clock. hook, when set, runs
// before each call with the 1-based call number and may block or fail it.
type fakeBackend struct {
	issuer *jwt.Issuer
	clock  *clock.FakeClock
	ttl    time.Duration

	calls atomic.Int32

	mu   sync.Mutex
	hook func(ctx context.Context, n int32) error
	last refresh.Request
}

func newFakeBackend(t testing.TB, clk *clock.FakeClock) *fakeBackend {
	t.Helper()
	iss, err := jwt.NewIssuer(jwt.Config{
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("test-signing-secret-0123456789ab"),
		Issuer:        "gosession-test",
	})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	return &fakeBackend{issuer: iss, clock: clk, ttl: testTTL}
}

func (b *fakeBackend) setHook(h func(ctx context.Context, n int32) error) {
	b.mu.Lock()
	b.hook = h
	b.mu.Unlock()
}

func (b *fakeBackend) Refresh(ctx context.Context, req refresh.Request) (*refresh.Result, error) {
	n := b.calls.Add(1)

	b.mu.Lock()
	hook := b.hook
	b.last = req
	b.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, n); err != nil {
			return nil, err
		}
	}

	tok, err := b.issuer.Issue("user-1", b.clock.Now(), b.ttl, map[string]any{"n": n})
	if err != nil {
		return nil, err
	}
	return &refresh.Result{Token: tok, ExpiresIn: b.ttl}, nil
}

func (b *fakeBackend) mint(t testing.TB, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	tok, err := b.issuer.Issue("user-1", issuedAt, ttl, nil)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

// failWith returns a hook that fails every call with err.
func failWith(err error) func(context.Context, int32) error {
	return func(context.Context, int32) error { return err }
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Refresh.MinInterval = 0
	cfg.Refresh.WaitTimeout = time.Hour
	cfg.Events.BufferSize = 256
	return cfg
}

type harness struct {
	m       *Manager
	clock   *clock.FakeClock
	backend *fakeBackend
}

func newHarness(t testing.TB, mutate func(*Config)) *harness {
	t.Helper()
	clk := clock.Fake(testEpoch)
	return newHarnessOn(t, clk, nil, "", mutate)
}

func newHarnessOn(t testing.TB, clk *clock.FakeClock, bus broadcast.Bus, id string, mutate func(*Config)) *harness {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	backend := newFakeBackend(t, clk)

	b := New().
		WithConfig(cfg).
		WithClock(clk).
		WithRefresher(backend).
		WithContextID(id)
	if bus != nil {
		b = b.WithBus(bus)
	}
	m, err := b.Build()
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	return &harness{m: m, clock: clk, backend: backend}
}

func (h *harness) initFresh(t testing.TB) string {
	t.Helper()
	tok := h.backend.mint(t, h.clock.Now(), testTTL)
	if err := h.m.InitializeToken(context.Background(), tok); err != nil {
		t.Fatalf("initialize token: %v", err)
	}
	return tok
}

// waitFor polls cond in real time. Refresh calls complete on their own
// goroutine, so tests observe their outcome this way.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type refreshOutcome struct {
	token string
	err   error
}

func refreshAsync(m *Manager, p Priority) <-chan refreshOutcome {
	out := make(chan refreshOutcome, 1)
	go func() {
		tok, err := m.RefreshToken(context.Background(), p)
		out <- refreshOutcome{token: tok, err: err}
	}()
	return out
}

func receive(t *testing.T, ch <-chan refreshOutcome) refreshOutcome {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not complete")
		return refreshOutcome{}
	}
}

// eventRecorder collects events delivered by the dispatcher.
type eventRecorder struct {
	ch chan Event
}

func recordEvents(m *Manager, kind EventKind) *eventRecorder {
	r := &eventRecorder{ch: make(chan Event, 256)}
	m.Subscribe(kind, func(e Event) { r.ch <- e })
	return r
}

func (r *eventRecorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}
