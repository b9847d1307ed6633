package goSession

import (
	"context"
	"testing"
	"time"
)

func BenchmarkToken(b *testing.B) {
	h := newHarness(b, nil)
	h.initFresh(b)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, ok := h.m.Token(); !ok {
				b.Fatal("token unavailable")
			}
		}
	})
}

func BenchmarkTokenStatus(b *testing.B) {
	h := newHarness(b, nil)
	h.initFresh(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = h.m.TokenStatus()
	}
}

func BenchmarkRefreshToken(b *testing.B) {
	h := newHarness(b, func(c *Config) {
		c.Breaker.SuspiciousThreshold = 1 << 20
		c.Breaker.Window = time.Millisecond
	})
	h.initFresh(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.clock.Advance(2 * time.Millisecond)
		if _, err := h.m.RefreshToken(ctx, PriorityNormal); err != nil {
			b.Fatalf("refresh: %v", err)
		}
	}
}

func BenchmarkMetricsInc(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricRefreshSuccess)
		}
	})
}
