package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics using a private Prometheus registry
type PrometheusMetrics struct {
	// Decision counters kept outside Prometheus for the health endpoint
	allowed atomic.Uint64
	denied  atomic.Uint64

	evaluationsTotal   *prometheus.CounterVec
	evaluationErrors   *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	cacheHitsTotal     prometheus.Counter
	cacheMissesTotal   prometheus.Counter
	activeRequests     prometheus.Gauge

	policyVersion prometheus.Gauge
	policyCount   prometheus.Gauge
	policyReloads *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	rateLimited  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of policy evaluations by decision",
			},
			[]string{"decision"},
		),
		evaluationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluation_errors_total",
				Help:      "Total number of fail-closed evaluations by error code",
			},
			[]string{"code"},
		),
		// Evaluation latency: 10µs to 100ms (the default evaluation timeout)
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_microseconds",
				Help:      "Policy evaluation latency in microseconds",
				Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 5000, 10000, 50000, 100000},
			},
		),
		cacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total number of decision cache hits",
			},
		),
		cacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total number of decision cache misses",
			},
		),
		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_evaluations",
				Help:      "Number of evaluations in flight",
			},
		),
		policyVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "version",
				Help:      "Version of the active policy snapshot",
			},
		),
		policyCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "count",
				Help:      "Number of policies in the active snapshot",
			},
		),
		policyReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "policy",
				Name:      "reloads_total",
				Help:      "Total number of policy reloads by status",
			},
			[]string{"status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_milliseconds",
				Help:      "HTTP request latency in milliseconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000},
			},
			[]string{"route"},
		),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "rate_limited_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
		registry: registry,
	}

	registry.MustRegister(
		pm.evaluationsTotal,
		pm.evaluationErrors,
		pm.evaluationDuration,
		pm.cacheHitsTotal,
		pm.cacheMissesTotal,
		pm.activeRequests,
		pm.policyVersion,
		pm.policyCount,
		pm.policyReloads,
		pm.httpRequests,
		pm.httpDuration,
		pm.rateLimited,
	)

	return pm
}

// RecordEvaluation records a completed evaluation
func (p *PrometheusMetrics) RecordEvaluation(decision string, duration time.Duration) {
	if decision == "ALLOW" {
		p.allowed.Add(1)
	} else {
		p.denied.Add(1)
	}
	p.evaluationsTotal.WithLabelValues(decision).Inc()
	p.evaluationDuration.Observe(float64(duration.Microseconds()))
}

// RecordEvaluationError records a fail-closed evaluation
func (p *PrometheusMetrics) RecordEvaluationError(code string) {
	p.evaluationErrors.WithLabelValues(code).Inc()
}

// RecordCacheHit records a decision cache hit
func (p *PrometheusMetrics) RecordCacheHit() {
	p.cacheHitsTotal.Inc()
}

// RecordCacheMiss records a decision cache miss
func (p *PrometheusMetrics) RecordCacheMiss() {
	p.cacheMissesTotal.Inc()
}

// IncActiveRequests increments in-flight evaluations
func (p *PrometheusMetrics) IncActiveRequests() {
	p.activeRequests.Inc()
}

// DecActiveRequests decrements in-flight evaluations
func (p *PrometheusMetrics) DecActiveRequests() {
	p.activeRequests.Dec()
}

// SetPolicyVersion publishes the active snapshot version and size
func (p *PrometheusMetrics) SetPolicyVersion(version int64, policies int) {
	p.policyVersion.Set(float64(version))
	p.policyCount.Set(float64(policies))
}

// RecordPolicyReload records a watcher reload ("success" or "failure")
func (p *PrometheusMetrics) RecordPolicyReload(status string) {
	p.policyReloads.WithLabelValues(status).Inc()
}

// RecordHTTPRequest records a served request
func (p *PrometheusMetrics) RecordHTTPRequest(route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(route).Observe(float64(duration.Microseconds()) / 1000)
}

// RecordRateLimited records a rejected request
func (p *PrometheusMetrics) RecordRateLimited(route string) {
	p.rateLimited.WithLabelValues(route).Inc()
}

// Decisions returns the allow and deny totals since start
func (p *PrometheusMetrics) Decisions() (allowed, denied uint64) {
	return p.allowed.Load(), p.denied.Load()
}

// HTTPHandler returns the Prometheus HTTP handler for /metrics endpoint
func (p *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
