package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for query execution. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Counters
	QueriesTotal              *prometheus.CounterVec
	ConnectsTotal             *prometheus.CounterVec
	CheckoutsTotal            *prometheus.CounterVec
	DiscardedConnectionsTotal *prometheus.CounterVec

	// Gauges
	CachedConnections prometheus.Gauge

	// Histograms
	QueryDuration   *prometheus.HistogramVec
	ConnectDuration *prometheus.HistogramVec
}

// DefaultMetrics creates Metrics registered with the default registry.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

// NewMetrics creates Metrics registered with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of queries executed",
			},
			[]string{"backend", "status"},
		),
		ConnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connects_total",
				Help:      "Total number of connection attempts",
			},
			[]string{"backend", "status"},
		),
		CheckoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkouts_total",
				Help:      "Total number of connection checkouts by result (hit, miss)",
			},
			[]string{"result"},
		),
		DiscardedConnectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "discarded_connections_total",
				Help:      "Connections closed instead of cached, by reason",
			},
			[]string{"reason"},
		),

		CachedConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cached_connections",
				Help:      "Connections currently held in the registry",
			},
		),

		QueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Query execution duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
			},
			[]string{"backend"},
		),
		ConnectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "connect_duration_seconds",
				Help:      "Time to establish a backend connection in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~8s
			},
			[]string{"backend"},
		),
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordQuery records one query execution.
func (m *Metrics) RecordQuery(backend string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(backend, status(success)).Inc()
	m.QueryDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordConnect records one connection attempt.
func (m *Metrics) RecordConnect(backend string, d time.Duration, success bool) {
	if m == nil {
		return
	}
	m.ConnectsTotal.WithLabelValues(backend, status(success)).Inc()
	m.ConnectDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordCheckout records whether a checkout found a cached connection.
func (m *Metrics) RecordCheckout(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CheckoutsTotal.WithLabelValues(result).Inc()
}

// RecordDiscard records a connection closed instead of cached.
func (m *Metrics) RecordDiscard(reason string) {
	if m == nil {
		return
	}
	m.DiscardedConnectionsTotal.WithLabelValues(reason).Inc()
}

// SetCachedConnections updates the registry size gauge.
func (m *Metrics) SetCachedConnections(n int) {
	if m == nil {
		return
	}
	m.CachedConnections.Set(float64(n))
}
