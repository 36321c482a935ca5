package imagefetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for image acquisition. A nil
// *Metrics records nothing.
type Metrics struct {
	fetchesTotal   *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	fetchedBytes   prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
	blockedFetches *prometheus.CounterVec
}

// NewMetrics creates the fetch instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ogis_image_fetches_total",
				Help: "Image acquisitions by source and outcome",
			},
			[]string{"source", "outcome"},
		),

		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ogis_image_fetch_duration_seconds",
				Help:    "Image acquisition latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),

		fetchedBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ogis_image_fetch_bytes",
				Help:    "Size of validated images downloaded from remote servers",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ogis_image_cache_lookups_total",
				Help: "Image cache lookups by result",
			},
			[]string{"result"},
		),

		blockedFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ogis_image_fetch_blocked_total",
				Help: "Fetches refused for security reasons",
			},
			[]string{"reason"},
		),
	}

	reg.MustRegister(
		m.fetchesTotal,
		m.fetchDuration,
		m.fetchedBytes,
		m.cacheLookups,
		m.blockedFetches,
	)
	return m
}

// RecordFetch records one completed acquisition.
func (m *Metrics) RecordFetch(source, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.fetchesTotal.WithLabelValues(source, outcome).Inc()
	m.fetchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordBytes records the size of a validated network payload.
func (m *Metrics) RecordBytes(n int) {
	if m == nil {
		return
	}
	m.fetchedBytes.Observe(float64(n))
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// RecordBlocked records a fetch refused for a security reason.
func (m *Metrics) RecordBlocked(reason string) {
	if m == nil {
		return
	}
	m.blockedFetches.WithLabelValues(reason).Inc()
}
