package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goAccess.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         goAccess.MetricID
	instrument metric.Int64ObservableCounter
}

// observedHistogram publishes cumulative bucket counts on one gauge, one
// point per "le" attribute, plus a sample count.
type observedHistogram struct {
	id      goAccess.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter registers observable instruments for every engine counter and
// reads one snapshot per collection.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram
	auditDropped metric.Int64ObservableCounter
}

func NewExporter(meter metric.Meter, engine *goAccess.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:     source,
		counters:   make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}
	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*2+1)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		bucketName := def.Name + "_bucket"
		buckets, err := meter.Int64ObservableGauge(bucketName, metric.WithDescription(def.Help+" Cumulative bucket counts by le."))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", bucketName, err)
		}
		countName := def.Name + "_count"
		count, err := meter.Int64ObservableGauge(countName, metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", countName, err)
		}
		exporter.histograms = append(exporter.histograms, observedHistogram{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	bucketAttrs := make([]metric.ObserveOption, len(internaldefs.HistogramBoundSuffix))
	for i := range bucketAttrs {
		le := "+Inf"
		if i < len(internaldefs.HistogramUpperBounds) {
			le = strconv.FormatFloat(internaldefs.HistogramUpperBounds[i], 'g', -1, 64)
		}
		bucketAttrs[i] = metric.WithAttributes(attribute.String("le", le))
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		for _, h := range exporter.histograms {
			raw, ok := snapshot.Histograms[h.id]
			if !ok {
				continue
			}
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
			for i := range cumulative {
				observer.ObserveInt64(h.buckets, int64(cumulative[i]), bucketAttrs[i])
			}
			observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
		}
		observer.ObserveInt64(exporter.auditDropped, int64(exporter.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
