package otel

import (
	"context"
	"errors"
	"fmt"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is what the exporter reads on each collection. *goSession.Manager
// implements it.
type Source interface {
	MetricsSnapshot() goSession.MetricsSnapshot
	EventsDropped() uint64
	TokenStatus() goSession.TokenStatus
}

type instruments struct {
	counters map[goSession.MetricID]metric.Int64ObservableCounter
	dropped  metric.Int64ObservableCounter

	latencyBuckets metric.Int64ObservableGauge
	latencyCount   metric.Int64ObservableCounter
	latencySum     metric.Float64ObservableCounter

	queueDepth  metric.Int64ObservableGauge
	breakerOpen metric.Int64ObservableGauge
	tokenTTL    metric.Float64ObservableGauge
	tokenState  metric.Int64ObservableGauge
}

// Exporter observes one or more managers. Every data point carries a
// context_id attribute so sibling contexts sharing a meter stay apart.
type Exporter struct {
	sources      []Source
	ins          instruments
	registration metric.Registration
}

// NewExporter observes the given managers.
func NewExporter(meter metric.Meter, managers ...*goSession.Manager) (*Exporter, error) {
	sources := make([]Source, 0, len(managers))
	for _, m := range managers {
		if m == nil {
			return nil, ErrNilSource
		}
		sources = append(sources, m)
	}
	return NewExporterFromSource(meter, sources...)
}

func NewExporterFromSource(meter metric.Meter, sources ...Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if len(sources) == 0 {
		return nil, ErrNilSource
	}
	for _, s := range sources {
		if s == nil {
			return nil, ErrNilSource
		}
	}

	ins, observables, err := newInstruments(meter)
	if err != nil {
		return nil, err
	}
	e := &Exporter{sources: sources, ins: ins}

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func newInstruments(meter metric.Meter) (instruments, []metric.Observable, error) {
	ins := instruments{counters: make(map[goSession.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs))}
	var obs []metric.Observable
	var err error

	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return ins, nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		ins.counters[def.ID] = c
		obs = append(obs, c)
	}

	if ins.dropped, err = meter.Int64ObservableCounter(internaldefs.EventsDroppedName,
		metric.WithDescription(internaldefs.EventsDroppedHelp)); err != nil {
		return ins, nil, fmt.Errorf("counter %s: %w", internaldefs.EventsDroppedName, err)
	}

	latency := internaldefs.HistogramDefs[0].Name
	if ins.latencyBuckets, err = meter.Int64ObservableGauge(latency+"_bucket",
		metric.WithDescription("Cumulative refresh latency bucket counts, keyed by the le attribute.")); err != nil {
		return ins, nil, fmt.Errorf("gauge %s_bucket: %w", latency, err)
	}
	if ins.latencyCount, err = meter.Int64ObservableCounter(latency+"_count",
		metric.WithDescription("Refresh calls timed.")); err != nil {
		return ins, nil, fmt.Errorf("counter %s_count: %w", latency, err)
	}
	if ins.latencySum, err = meter.Float64ObservableCounter(latency+"_sum",
		metric.WithDescription("Total refresh latency."), metric.WithUnit("s")); err != nil {
		return ins, nil, fmt.Errorf("counter %s_sum: %w", latency, err)
	}

	if ins.queueDepth, err = meter.Int64ObservableGauge(internaldefs.QueueDepthName,
		metric.WithDescription(internaldefs.QueueDepthHelp)); err != nil {
		return ins, nil, fmt.Errorf("gauge %s: %w", internaldefs.QueueDepthName, err)
	}
	if ins.breakerOpen, err = meter.Int64ObservableGauge(internaldefs.BreakerOpenName,
		metric.WithDescription(internaldefs.BreakerOpenHelp)); err != nil {
		return ins, nil, fmt.Errorf("gauge %s: %w", internaldefs.BreakerOpenName, err)
	}
	if ins.tokenTTL, err = meter.Float64ObservableGauge(internaldefs.TokenTTLName,
		metric.WithDescription(internaldefs.TokenTTLHelp), metric.WithUnit("s")); err != nil {
		return ins, nil, fmt.Errorf("gauge %s: %w", internaldefs.TokenTTLName, err)
	}
	if ins.tokenState, err = meter.Int64ObservableGauge(internaldefs.TokenStateName,
		metric.WithDescription(internaldefs.TokenStateHelp)); err != nil {
		return ins, nil, fmt.Errorf("gauge %s: %w", internaldefs.TokenStateName, err)
	}

	obs = append(obs,
		ins.dropped,
		ins.latencyBuckets, ins.latencyCount, ins.latencySum,
		ins.queueDepth, ins.breakerOpen, ins.tokenTTL, ins.tokenState,
	)
	return ins, obs, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	for _, src := range e.sources {
		status := src.TokenStatus()
		ctxAttr := attribute.String("context_id", status.ContextID)
		withCtx := metric.WithAttributes(ctxAttr)

		snap := src.MetricsSnapshot()
		for id, c := range e.ins.counters {
			o.ObserveInt64(c, int64(snap.Counters[id]), withCtx)
		}
		o.ObserveInt64(e.ins.dropped, int64(src.EventsDropped()), withCtx)

		if raw, ok := snap.Histograms[goSession.MetricRefreshLatency]; ok {
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
			for i, le := range internaldefs.HistogramBoundLabels {
				o.ObserveInt64(e.ins.latencyBuckets, int64(cumulative[i]),
					metric.WithAttributes(ctxAttr, attribute.String("le", le)))
			}
			o.ObserveInt64(e.ins.latencyCount, int64(cumulative[len(cumulative)-1]), withCtx)
			o.ObserveFloat64(e.ins.latencySum, snap.HistogramSums[goSession.MetricRefreshLatency].Seconds(), withCtx)
		}

		o.ObserveInt64(e.ins.queueDepth, int64(status.QueueDepth), withCtx)
		var open int64
		if status.BreakerTripped {
			open = 1
		}
		o.ObserveInt64(e.ins.breakerOpen, open, withCtx)
		o.ObserveFloat64(e.ins.tokenTTL, status.TimeToExpiration.Seconds(), withCtx)
		o.ObserveInt64(e.ins.tokenState, 1,
			metric.WithAttributes(ctxAttr, attribute.String("state", status.State.String())))
	}
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
