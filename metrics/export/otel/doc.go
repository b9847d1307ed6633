// Package otel exports goSession manager metrics as OpenTelemetry
// asynchronous instruments.
//
// One Exporter can observe several managers; each data point is tagged with
// the manager's context_id. The refresh latency histogram is reported as a
// cumulative bucket gauge keyed by an le attribute plus _count and _sum
// counters. Queue depth, breaker state, remaining token lifetime and the
// current token state are reported as gauges.
package otel
