package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one manager counter for exporters.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one manager histogram for exporters.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goSession.MetricRefreshSuccess, Name: "gosession_refresh_success_total", Help: "Successful token refreshes."},
	{ID: goSession.MetricRefreshFailure, Name: "gosession_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: goSession.MetricRefreshQueued, Name: "gosession_refresh_queued_total", Help: "Refresh requests queued by the minimum interval."},
	{ID: goSession.MetricRefreshCoalesced, Name: "gosession_refresh_coalesced_total", Help: "Refresh requests served by an in-flight refresh."},
	{ID: goSession.MetricQueueEvicted, Name: "gosession_refresh_queue_evicted_total", Help: "Queued refresh requests evicted by overflow."},
	{ID: goSession.MetricBreakerTripped, Name: "gosession_breaker_tripped_total", Help: "Circuit breaker trips."},
	{ID: goSession.MetricSyncAdopted, Name: "gosession_sync_adopted_total", Help: "Tokens adopted from sibling contexts."},
	{ID: goSession.MetricSyncRevoked, Name: "gosession_sync_revoked_total", Help: "Revocations applied from sibling contexts."},
	{ID: goSession.MetricSyncPublished, Name: "gosession_sync_published_total", Help: "Messages published to sibling contexts."},
}

var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricRefreshLatency, Name: "gosession_refresh_latency_seconds", Help: "Refresh call latency histogram."},
}

// EventsDroppedName is the counter of events dropped by a full dispatcher.
const (
	EventsDroppedName = "gosession_events_dropped_total"
	EventsDroppedHelp = "Dropped events due to dispatcher backpressure."
)

// HistogramUpperBounds are the bucket upper bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundLabels are the "le" values of each bucket, +Inf included.
var HistogramBoundLabels = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// Per-context gauges read from the manager's token status.
const (
	QueueDepthName = "gosession_refresh_queue_depth"
	QueueDepthHelp = "Refresh requests waiting in the queue."

	BreakerOpenName = "gosession_breaker_open"
	BreakerOpenHelp = "1 while the refresh circuit breaker is tripped."

	TokenTTLName = "gosession_token_ttl_seconds"
	TokenTTLHelp = "Seconds until the current token expires."

	TokenStateName = "gosession_token_state"
	TokenStateHelp = "Current token state, reported as 1 on the state attribute."
)

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
