package goAccess

import (
	"sync/atomic"
	"time"
)

// MetricID names one in-process counter or histogram.
type MetricID uint16

const (
	MetricAuthorizeSuccess MetricID = iota
	MetricAuthorizeFailure
	MetricLoginRequired
	MetricConsentApproved
	MetricConsentDenied
	MetricTokenIssued
	MetricTokenExchangeFailure
	MetricTokenVerifySuccess
	MetricTokenVerifyFailure
	MetricTokenRevoked
	MetricClientRegistered
	MetricClientSecretRotated
	MetricPermissionAllowed
	MetricPermissionDenied
	MetricPermissionGranted
	MetricPermissionRevoked
	MetricAdminAdded
	MetricAdminStatusChanged
	MetricGateAllowed
	MetricGateUnauthorized
	MetricGateForbidden
	MetricRateLimitHit
	MetricAPIKeyCreated
	MetricAPIKeyUpdated
	MetricAPIKeyDeleted
	MetricSweepRemoved
	MetricBackendError
	// Latency histograms.
	MetricTokenExchangeLatency
	MetricTokenVerifyLatency
	MetricGateLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. Exporters under
// metrics/export read it through MetricsSnapshot.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot holds counter values and non-cumulative histogram
// buckets at one instant.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add increases counter id by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d into the histogram for id. Counter IDs are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if !isHistogram(id) {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 3),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isHistogram(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for id := MetricTokenExchangeLatency; id < metricIDCount; id++ {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

func isHistogram(id MetricID) bool {
	return id >= MetricTokenExchangeLatency && id < metricIDCount
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
