package prometheus

import (
	"net/http"

	goAccess "github.com/MrEthical07/goAccess"
	"github.com/MrEthical07/goAccess/metrics/export/internaldefs"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() goAccess.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter is a prometheus.Collector over the engine's in-process
// counters. Each scrape reads one snapshot.
type Exporter struct {
	source     metricsSource
	counters   []*prom.Desc
	histograms []*prom.Desc
	dropped    *prom.Desc
}

var _ prom.Collector = (*Exporter)(nil)

// NewExporter returns a collector reading from engine.
func NewExporter(engine *goAccess.Engine) *Exporter {
	return NewExporterFromSource(engine)
}

// NewExporterFromSource returns a collector reading from any snapshot
// source.
func NewExporterFromSource(source metricsSource) *Exporter {
	e := &Exporter{
		source:     source,
		counters:   make([]*prom.Desc, len(internaldefs.CounterDefs)),
		histograms: make([]*prom.Desc, len(internaldefs.HistogramDefs)),
		dropped:    prom.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
	}
	for i, def := range internaldefs.CounterDefs {
		e.counters[i] = prom.NewDesc(def.Name, def.Help, nil, nil)
	}
	for i, def := range internaldefs.HistogramDefs {
		e.histograms[i] = prom.NewDesc(def.Name, def.Help, nil, nil)
	}
	return e
}

func (e *Exporter) Describe(ch chan<- *prom.Desc) {
	for _, d := range e.counters {
		ch <- d
	}
	for _, d := range e.histograms {
		ch <- d
	}
	ch <- e.dropped
}

func (e *Exporter) Collect(ch chan<- prom.Metric) {
	if e == nil || e.source == nil {
		return
	}
	snapshot := e.source.MetricsSnapshot()

	for i, def := range internaldefs.CounterDefs {
		ch <- prom.MustNewConstMetric(e.counters[i], prom.CounterValue, float64(snapshot.Counters[def.ID]))
	}
	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for j, bound := range internaldefs.HistogramUpperBounds {
			buckets[bound] = cumulative[j]
		}
		// Snapshots carry no sum.
		ch <- prom.MustNewConstHistogram(e.histograms[i], cumulative[len(cumulative)-1], 0, buckets)
	}
	ch <- prom.MustNewConstMetric(e.dropped, prom.CounterValue, float64(e.source.AuditDropped()))
}

// Handler serves the exporter from a private registry, so mounting it
// never touches prometheus.DefaultRegisterer.
func (e *Exporter) Handler() http.Handler {
	reg := prom.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
