// Package metrics provides Prometheus-based metrics collection for the
// alicorn service: HTTP traffic, database queries, comparison runs, and
// enrichment cache behavior.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "alicorn"

	subsystemAPI      = "api"
	subsystemDatabase = "database"
	subsystemCompare  = "compare"
	subsystemEnrich   = "enrich"
)

// Metrics holds every collector the service exposes, bound to its own
// registry so tests can create isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	dbErrors        *prometheus.CounterVec

	comparisons        *prometheus.CounterVec
	comparisonDuration prometheus.Histogram
	comparisonScans    prometheus.Histogram

	lookups *prometheus.CounterVec
}

// New creates a metrics instance with all collectors registered,
// including the standard Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemAPI,
				Name:      "requests_total",
				Help:      "HTTP requests by method, route, and status code",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystemAPI,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1.0, 2.5, 10.0},
			},
			[]string{"method", "route"},
		),
		dbQueries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemDatabase,
				Name:      "queries_total",
				Help:      "Database queries by operation",
			},
			[]string{"operation"},
		),
		dbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystemDatabase,
				Name:      "query_duration_seconds",
				Help:      "Database query duration in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.25, 1.0, 5.0},
			},
			[]string{"operation"},
		),
		dbErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemDatabase,
				Name:      "errors_total",
				Help:      "Database errors by operation",
			},
			[]string{"operation"},
		),
		comparisons: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemCompare,
				Name:      "runs_total",
				Help:      "Comparison runs by outcome",
			},
			[]string{"outcome"},
		),
		comparisonDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystemCompare,
				Name:      "duration_seconds",
				Help:      "End-to-end comparison duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.25, 1.0, 5.0, 30.0},
			},
		),
		comparisonScans: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystemCompare,
				Name:      "scans_per_run",
				Help:      "Number of scans per comparison run",
				Buckets:   []float64{2, 3, 5, 10, 20, 50},
			},
		),
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystemEnrich,
				Name:      "lookups_total",
				Help:      "Enrichment lookups by provider and cache result",
			},
			[]string{"provider", "result"},
		),
	}

	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.dbQueries,
		m.dbQueryDuration,
		m.dbErrors,
		m.comparisons,
		m.comparisonDuration,
		m.comparisonScans,
		m.lookups,
	)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler returns the HTTP handler serving the Prometheus exposition
// format for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordDBQuery records one database query and its outcome.
func (m *Metrics) RecordDBQuery(operation string, duration time.Duration, err error) {
	m.dbQueries.WithLabelValues(operation).Inc()
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.dbErrors.WithLabelValues(operation).Inc()
	}
}

// RecordComparison records one comparison run.
func (m *Metrics) RecordComparison(scanCount int, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.comparisons.WithLabelValues(outcome).Inc()
	m.comparisonDuration.Observe(duration.Seconds())
	m.comparisonScans.Observe(float64(scanCount))
}

// RecordLookup records one enrichment lookup. result is "hit", "miss",
// or "error".
func (m *Metrics) RecordLookup(provider, result string) {
	m.lookups.WithLabelValues(provider, result).Inc()
}
