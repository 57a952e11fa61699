package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Manager owns the process-local Prometheus registry and every metric the
// service exposes. All methods are safe for concurrent use.
type Manager struct {
	registry *prometheus.Registry

	searchesTotal     *prometheus.CounterVec
	searchDuration    *prometheus.HistogramVec
	searchResults     *prometheus.HistogramVec
	decodesTotal      *prometheus.CounterVec
	processorRuns     *prometheus.CounterVec
	processorFailures *prometheus.CounterVec
	artifactsServed   prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewManager builds the full metric set on a private registry so tests can
// run several managers side by side without collisions.
func NewManager(namespace string) *Manager {
	if namespace == "" {
		namespace = "kvlens"
	}

	m := &Manager{registry: prometheus.NewRegistry()}

	m.searchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"mode", "status"},
	)

	m.searchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	m.searchResults = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "results",
			Help:      "Number of entries returned per search",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
		},
		[]string{"mode"},
	)

	m.decodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schema",
			Name:      "decodes_total",
			Help:      "Total number of schema decode outcomes",
		},
		[]string{"type", "status"},
	)

	m.processorRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "runs_total",
			Help:      "Total number of field processor invocations",
		},
		[]string{"processor"},
	)

	m.processorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "failures_total",
			Help:      "Total number of field processor failures",
		},
		[]string{"processor"},
	)

	m.artifactsServed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "served",
			Help:      "Number of artifacts currently available for download",
		},
	)

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.registerMetrics()
	return m
}

func (m *Manager) registerMetrics() {
	for _, metric := range []prometheus.Collector{
		m.searchesTotal,
		m.searchDuration,
		m.searchResults,
		m.decodesTotal,
		m.processorRuns,
		m.processorFailures,
		m.artifactsServed,
		m.httpRequestsTotal,
		m.httpDuration,
	} {
		m.registry.MustRegister(metric)
	}
}

func (m *Manager) RecordSearch(mode string, results int, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.searchesTotal.WithLabelValues(mode, status).Inc()
	m.searchDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if success {
		m.searchResults.WithLabelValues(mode).Observe(float64(results))
	}
}

func (m *Manager) RecordDecode(typeName string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.decodesTotal.WithLabelValues(typeName, status).Inc()
}

func (m *Manager) RecordProcessorRun(processorID string) {
	m.processorRuns.WithLabelValues(processorID).Inc()
}

func (m *Manager) RecordProcessorFailure(processorID string) {
	m.processorFailures.WithLabelValues(processorID).Inc()
}

func (m *Manager) SetArtifactsServed(count int) {
	m.artifactsServed.Set(float64(count))
}

func (m *Manager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather is a test hook over the private registry.
func (m *Manager) Gather() ([]*dto.MetricFamily, error) {
	return m.registry.Gather()
}
