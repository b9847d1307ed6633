// Package prometheus exports goSession manager metrics through
// github.com/prometheus/client_golang.
//
// Register a [Collector] with any prometheus.Registerer, or use [Handler]
// for a standalone scrape endpoint. Metric names come from internaldefs and
// match the OpenTelemetry exporter.
package prometheus
