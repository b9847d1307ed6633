package goSession

import (
	"errors"
	"testing"

	"github.com/MrEthical07/goSession/clock"
)

func TestBuildRequiresRefresher(t *testing.T) {
	if _, err := New().Build(); !errors.Is(err, ErrNoRefresher) {
		t.Fatalf("expected ErrNoRefresher, got %v", err)
	}
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Refresh.Threshold = 2

	clk := clock.Fake(testEpoch)
	_, err := New().WithConfig(cfg).WithRefresher(newFakeBackend(t, clk)).Build()
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestBuildIsMemoizedUntilClosed(t *testing.T) {
	clk := clock.Fake(testEpoch)
	b := New().WithClock(clk).WithRefresher(newFakeBackend(t, clk))

	m1, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	m2, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if m1 != m2 {
		t.Fatal("expected the same manager")
	}
	if m1.ContextID() == "" {
		t.Fatal("expected a generated context id")
	}

	if err := m1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	m3, err := b.Build()
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	defer m3.Close()
	if m3 == m1 {
		t.Fatal("expected a new manager after close")
	}
	if m3.State() != StateInitializing {
		t.Fatalf("expected initializing, got %s", m3.State())
	}
}
