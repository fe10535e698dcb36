// Package metrics defines the Prometheus collectors for the build and query
// pipelines and exposes an HTTP handler for scraping.
//
// A nil *Metrics is valid: every recording method is a no-op on it, so
// commands that run without a metrics endpoint pass nil.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	QueriesTotal         *prometheus.CounterVec
	QueryLatency         *prometheus.HistogramVec
	QueryCandidates      prometheus.Histogram
	ImagesExtractedTotal *prometheus.CounterVec
	ExtractDuration      *prometheus.HistogramVec
	RecordsStoredTotal   *prometheus.CounterVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	EventsPublishedTotal *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cbir_http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cbir_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cbir_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cbir_queries_total",
				Help: "Ranked queries by variant and outcome (ok, error).",
			},
			[]string{"variant", "result"},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cbir_query_latency_seconds",
				Help:    "Query latency in seconds, from decoded target to ranked result.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"variant", "cache_status"},
		),
		QueryCandidates: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cbir_query_candidates",
				Help:    "Number of stored candidates scored per query.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
		),
		ImagesExtractedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cbir_images_extracted_total",
				Help: "Images processed by the build pipeline, by variant and status (ok, skipped).",
			},
			[]string{"variant", "status"},
		),
		ExtractDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cbir_extract_duration_seconds",
				Help:    "Decode plus feature extraction time per image.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"variant"},
		),
		RecordsStoredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cbir_records_stored_total",
				Help: "Feature records appended, by store backend.",
			},
			[]string{"backend"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cbir_cache_hits_total",
				Help: "Total number of ranked-result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cbir_cache_misses_total",
				Help: "Total number of ranked-result cache misses.",
			},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cbir_analytics_events_total",
				Help: "Analytics events by type and outcome (published, dropped).",
			},
			[]string{"type", "result"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cbir_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.QueriesTotal,
		m.QueryLatency,
		m.QueryCandidates,
		m.ImagesExtractedTotal,
		m.ExtractDuration,
		m.RecordsStoredTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.EventsPublishedTotal,
		m.CircuitBreakerState,
	)

	return m
}

func (m *Metrics) ObserveQuery(variant, cacheStatus string, err error, candidates int, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.QueriesTotal.WithLabelValues(variant, result).Inc()
	if err == nil {
		m.QueryLatency.WithLabelValues(variant, cacheStatus).Observe(d.Seconds())
		m.QueryCandidates.Observe(float64(candidates))
	}
}

func (m *Metrics) ObserveExtraction(variant string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "skipped"
	}
	m.ImagesExtractedTotal.WithLabelValues(variant, status).Inc()
	if err == nil {
		m.ExtractDuration.WithLabelValues(variant).Observe(d.Seconds())
	}
}

func (m *Metrics) RecordStored(backend string) {
	if m == nil {
		return
	}
	m.RecordsStoredTotal.WithLabelValues(backend).Inc()
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHitsTotal.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMissesTotal.Inc()
	}
}

func (m *Metrics) EventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	result := "published"
	if err != nil {
		result = "dropped"
	}
	m.EventsPublishedTotal.WithLabelValues(eventType, result).Inc()
}

// SetBreakerState records a circuit breaker state as its numeric value.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m != nil {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	}
}

// Handler returns the Prometheus scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
