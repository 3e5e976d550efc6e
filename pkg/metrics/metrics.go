// Package metrics defines the Prometheus metric collectors used by the
// discovery service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	PassesTotal          *prometheus.CounterVec
	PassLatency          *prometheus.HistogramVec
	CandidatesCount      prometheus.Histogram
	SectionFetchesTotal  *prometheus.CounterVec
	SectionCacheTotal    *prometheus.CounterVec
	BackendRequests      *prometheus.CounterVec
	BackendLatency       *prometheus.HistogramVec
	ActiveSessions       prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		PassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_passes_total",
				Help: "Discovery passes by outcome (ok, fetch_failed, stale, empty_query).",
			},
			[]string{"outcome"},
		),
		PassLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discovery_pass_latency_seconds",
				Help:    "End-to-end discovery pass latency by context kind.",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"context"},
		),
		CandidatesCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "discovery_candidates_count",
				Help:    "Number of candidate notes returned per pass.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
			},
		),
		SectionFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_section_fetches_total",
				Help: "Section fetches issued by the enricher, by status.",
			},
			[]string{"status"},
		),
		SectionCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_section_cache_total",
				Help: "Section cache lookups by tier and result.",
			},
			[]string{"tier", "result"},
		),
		BackendRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backend_requests_total",
				Help: "Requests to the notes backend by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		BackendLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backend_request_duration_seconds",
				Help:    "Notes backend request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"operation"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "discovery_active_sessions",
				Help: "Number of live discovery sessions.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.PassesTotal,
		m.PassLatency,
		m.CandidatesCount,
		m.SectionFetchesTotal,
		m.SectionCacheTotal,
		m.BackendRequests,
		m.BackendLatency,
		m.ActiveSessions,
		m.CircuitBreakerState,
	)

	return m
}

// Nop returns collectors registered nowhere, for tests and tools.
func Nop() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
