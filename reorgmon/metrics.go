package reorgmon

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsRecorder mirrors the tick loop and hourly-aggregator counters into
// Prometheus, the same ambient observability layer
// hieutrtr-go-blockchain-explorer wires alongside its indexer rather than
// inventing a bespoke stats endpoint. It is a pure supplement: spec §4.6/§4.7
// behavior does not depend on it, and a nil *metricsRecorder is always safe
// to call into (every method is a no-op on a nil receiver).
type metricsRecorder struct {
	tickTotal      prometheus.Counter
	tickDuration   prometheus.Histogram
	tickErrors     *prometheus.CounterVec
	blockCacheSize prometheus.Gauge
	maxHeight      prometheus.Gauge
	threatLevel    *prometheus.GaugeVec
}

// newMetricsRecorder registers its collectors against reg. Passing a fresh
// prometheus.NewRegistry() per Monitor avoids collisions when a process runs
// more than one Monitor (one per chain) against the default registry.
func newMetricsRecorder(reg prometheus.Registerer, chainLabel string) *metricsRecorder {
	constLabels := prometheus.Labels{"chain": chainLabel}

	m := &metricsRecorder{
		tickTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "reorgmon",
			Name:        "ticks_total",
			Help:        "Total number of completed tick loop iterations.",
			ConstLabels: constLabels,
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "reorgmon",
			Name:        "tick_duration_seconds",
			Help:        "Wall-clock duration of one tick loop iteration.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}),
		tickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "reorgmon",
			Name:        "tick_errors_total",
			Help:        "Tick-level errors by kind (rpc_error, fatal).",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		blockCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "reorgmon",
			Name:        "block_cache_size",
			Help:        "Number of heights currently retained in the block cache.",
			ConstLabels: constLabels,
		}),
		maxHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "reorgmon",
			Name:        "max_observed_height",
			Help:        "Highest block height observed so far.",
			ConstLabels: constLabels,
		}),
		threatLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "reorgmon",
			Name:        "hourly_threat_level",
			Help:        "1 on the most recently reported threat level, 0 elsewhere.",
			ConstLabels: constLabels,
		}, []string{"level"}),
	}

	reg.MustRegister(m.tickTotal, m.tickDuration, m.tickErrors, m.blockCacheSize, m.maxHeight, m.threatLevel)

	return m
}

func (m *metricsRecorder) observeTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickTotal.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *metricsRecorder) observeTickError(kind string) {
	if m == nil {
		return
	}
	m.tickErrors.WithLabelValues(kind).Inc()
}

func (m *metricsRecorder) observeGauges(cacheSize int, maxHeight uint64) {
	if m == nil {
		return
	}
	m.blockCacheSize.Set(float64(cacheSize))
	m.maxHeight.Set(float64(maxHeight))
}

func (m *metricsRecorder) observeHourlyReport(_ snapshot, level ThreatLevel) {
	if m == nil {
		return
	}
	for _, l := range []ThreatLevel{ThreatLow, ThreatMedium, ThreatHigh, ThreatCritical} {
		v := 0.0
		if l == level {
			v = 1.0
		}
		m.threatLevel.WithLabelValues(string(l)).Set(v)
	}
}
