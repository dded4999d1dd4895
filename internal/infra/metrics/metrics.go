// Package metrics owns the Prometheus collectors for the gateway.
//
// A *Metrics value is safe for concurrent use. All recording methods are
// no-ops on a nil receiver so components can be built without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dispatchai"

// Metrics holds every collector, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	generations     *prometheus.CounterVec
	controlPath     *prometheus.CounterVec
	batchPrompts    prometheus.Histogram
	controlUp       prometheus.Gauge
	httpRequests    *prometheus.CounterVec
	tokens          *prometheus.CounterVec
}

// New creates the collectors plus Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "attempts_total",
			Help:      "Adapter invocations by provider and outcome.",
		}, []string{"provider", "model", "outcome"}),
		attemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "attempt_duration_seconds",
			Help:      "Adapter invocation latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "retries_total",
			Help:      "Single retries performed after a transient failure.",
		}, []string{"provider"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "fallbacks_total",
			Help:      "Candidates abandoned in favour of the next one.",
		}, []string{"bot"}),
		generations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "generations_total",
			Help:      "GenerateForBot calls by final status.",
		}, []string{"bot", "status"}),
		controlPath: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "control_path_total",
			Help:      "Control-protocol first attempts by result.",
		}, []string{"result"}),
		batchPrompts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "batch_prompts",
			Help:      "Number of prompts per batch request.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100},
		}),
		controlUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "reachable",
			Help:      "1 if the last control server probe succeeded.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP API requests by route and status.",
		}, []string{"method", "route", "status"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "estimated_tokens_total",
			Help:      "Heuristic output tokens produced, by backend model.",
		}, []string{"model"}),
	}
}

// Registry exposes the underlying registry (tests, custom collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAttempt records one adapter invocation.
func (m *Metrics) ObserveAttempt(provider, model, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(provider, model, outcome).Inc()
	m.attemptDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// IncRetry records a retry against the given provider.
func (m *Metrics) IncRetry(provider string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(provider).Inc()
}

// IncFallback records a candidate being abandoned for bot.
func (m *Metrics) IncFallback(bot string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(bot).Inc()
}

// IncGeneration records the final status of one generation call.
func (m *Metrics) IncGeneration(bot, status string) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(bot, status).Inc()
}

// IncControlPath records the result of a control-protocol first attempt.
func (m *Metrics) IncControlPath(result string) {
	if m == nil {
		return
	}
	m.controlPath.WithLabelValues(result).Inc()
}

// ObserveBatch records the size of one batch.
func (m *Metrics) ObserveBatch(n int) {
	if m == nil {
		return
	}
	m.batchPrompts.Observe(float64(n))
}

// SetControlReachable records the latest probe result.
func (m *Metrics) SetControlReachable(up bool) {
	if m == nil {
		return
	}
	if up {
		m.controlUp.Set(1)
	} else {
		m.controlUp.Set(0)
	}
}

// AddTokens adds estimated output tokens for model.
func (m *Metrics) AddTokens(model string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tokens.WithLabelValues(model).Add(float64(n))
}

// IncHTTPRequest records one HTTP API request.
func (m *Metrics) IncHTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}
