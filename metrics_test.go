package goSession

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricRefreshSuccess)

	if got := m.Value(MetricRefreshSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRefreshQueued)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRefreshQueued); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricRefreshLatency, d)
	}
	// Only the latency metric has a histogram.
	m.Observe(MetricRefreshSuccess, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricRefreshLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
	if _, ok := snap.Counters[MetricRefreshLatency]; ok {
		t.Fatal("latency metric must not appear as a counter")
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricSyncAdopted)
	m.Inc(MetricBreakerTripped)
	m.Inc(MetricBreakerTripped)
	m.Observe(MetricRefreshLatency, 2*time.Millisecond)

	snap := m.Snapshot()
	if snap.Counters[MetricSyncAdopted] != 1 {
		t.Fatalf("expected MetricSyncAdopted=1 got %d", snap.Counters[MetricSyncAdopted])
	}
	if snap.Counters[MetricBreakerTripped] != 2 {
		t.Fatalf("expected MetricBreakerTripped=2 got %d", snap.Counters[MetricBreakerTripped])
	}
	if _, ok := snap.Histograms[MetricRefreshLatency]; ok {
		t.Fatal("histogram present with latency disabled")
	}
}

func TestMetricsLatencySum(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricRefreshLatency, 30*time.Millisecond)
	m.Observe(MetricRefreshLatency, 70*time.Millisecond)

	snap := m.Snapshot()
	if got := snap.HistogramSums[MetricRefreshLatency]; got != 100*time.Millisecond {
		t.Fatalf("latency sum = %v, want 100ms", got)
	}
	var count uint64
	for _, n := range snap.Histograms[MetricRefreshLatency] {
		count += n
	}
	if count != 2 {
		t.Fatalf("latency count = %d, want 2", count)
	}
}
