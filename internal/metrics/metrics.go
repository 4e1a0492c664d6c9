package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// RequestLatency tracks HTTP request latency by endpoint and method
	RequestLatency *prometheus.HistogramVec
	// HTTPRequestsTotal total HTTP requests
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestsInFlight current HTTP requests being processed
	HTTPRequestsInFlight prometheus.Gauge
	// ErrorCounter counts error envelopes by class and endpoint
	ErrorCounter *prometheus.CounterVec
	// TokenRefreshes counts OAuth refresh attempts by service and outcome
	TokenRefreshes *prometheus.CounterVec
	// UpstreamRequests counts third-party calls by service and status class
	UpstreamRequests *prometheus.CounterVec
	// UpstreamLatency tracks third-party call latency
	UpstreamLatency *prometheus.HistogramVec
	// SyncRecords counts reconciled rows by entity and action
	SyncRecords *prometheus.CounterVec
	// PaginationPages counts fetched pages by source and outcome
	PaginationPages *prometheus.CounterVec
	// Reports counts cron report jobs by type and outcome
	Reports *prometheus.CounterVec
	// RateLimited counts requests rejected by the API rate limiter
	RateLimited prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		RequestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"endpoint", "method", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of error responses",
			},
			[]string{"type", "endpoint", "method"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_refreshes_total",
				Help:      "OAuth token refresh attempts",
			},
			[]string{"service", "outcome"},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Requests sent to third-party APIs",
			},
			[]string{"service", "status"},
		),
		UpstreamLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Latency of third-party API calls",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		SyncRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_records_total",
				Help:      "Rows written by provider sync",
			},
			[]string{"entity", "action"},
		),
		PaginationPages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pagination_pages_total",
				Help:      "Pages fetched by the paginated aggregator",
			},
			[]string{"source", "outcome"},
		),
		Reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reports_total",
				Help:      "Cron report jobs processed",
			},
			[]string{"report_type", "outcome"},
		),
		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_requests_total",
				Help:      "Requests rejected by the API rate limiter",
			},
		),
	}

	registry.MustRegister(
		m.RequestLatency,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
		m.ErrorCounter,
		m.TokenRefreshes,
		m.UpstreamRequests,
		m.UpstreamLatency,
		m.SyncRecords,
		m.PaginationPages,
		m.Reports,
		m.RateLimited,
	)

	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns a Prometheus handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequestLatency records the latency of an HTTP request
func (m *Metrics) RecordRequestLatency(endpoint, method, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(endpoint, method, status).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint, method, status string) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// IncHTTPRequestsInFlight increments the in-flight requests counter
func (m *Metrics) IncHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight decrements the in-flight requests counter
func (m *Metrics) DecHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Dec()
}

// RecordError records an error envelope
func (m *Metrics) RecordError(errorType, endpoint, method string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(errorType, endpoint, method).Inc()
}

// RecordTokenRefresh records a refresh attempt by outcome: success, rejected,
// rate_limited, unavailable or error.
func (m *Metrics) RecordTokenRefresh(service, outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshes.WithLabelValues(service, outcome).Inc()
}

// RecordUpstream records one third-party call.
func (m *Metrics) RecordUpstream(service string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(service, statusClass(statusCode)).Inc()
	m.UpstreamLatency.WithLabelValues(service).Observe(durationSeconds)
}

// RecordSync records reconciled rows.
func (m *Metrics) RecordSync(entity, action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SyncRecords.WithLabelValues(entity, action).Add(float64(n))
}

// RecordPage records one aggregator page fetch.
func (m *Metrics) RecordPage(source, outcome string) {
	if m == nil {
		return
	}
	m.PaginationPages.WithLabelValues(source, outcome).Inc()
}

// RecordReport records one processed cron job.
func (m *Metrics) RecordReport(reportType, outcome string) {
	if m == nil {
		return
	}
	m.Reports.WithLabelValues(reportType, outcome).Inc()
}

// RecordRateLimited records a request rejected by the rate limiter
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code == http.StatusTooManyRequests:
		return "429"
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
