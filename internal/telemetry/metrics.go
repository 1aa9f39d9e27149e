package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects Prometheus metrics for the careline service.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	completionsTotal *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
	evictionsTotal   prometheus.Counter
}

// NewMetrics creates and registers the service metrics on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careline_requests_total",
			Help: "API requests by endpoint and status.",
		}, []string{"endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "careline_request_duration_seconds",
			Help:    "API request latency by endpoint.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"endpoint"}),
		completionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careline_completions_total",
			Help: "Model completion calls by phase and status.",
		}, []string{"phase", "status"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careline_tokens_total",
			Help: "Tokens consumed by direction.",
		}, []string{"direction"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careline_tool_calls_total",
			Help: "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "careline_conversation_evictions_total",
			Help: "Conversations removed by the retention limit.",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.completionsTotal,
		m.tokensTotal,
		m.toolCallsTotal,
		m.evictionsTotal,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest counts one API request and its latency.
func (m *Metrics) RecordRequest(endpoint, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(endpoint, status).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordCompletion counts one model completion call.
// phase is "initial" or "final"; status is "ok" or "error".
func (m *Metrics) RecordCompletion(phase, status string) {
	m.completionsTotal.WithLabelValues(phase, status).Inc()
}

// RecordTokens counts token usage for one completion.
func (m *Metrics) RecordTokens(input, output int) {
	m.tokensTotal.WithLabelValues("input").Add(float64(input))
	m.tokensTotal.WithLabelValues("output").Add(float64(output))
}

// RecordToolCall counts one tool invocation.
func (m *Metrics) RecordToolCall(tool, status string) {
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordEvictions counts conversations removed by the retention limit.
func (m *Metrics) RecordEvictions(n int) {
	m.evictionsTotal.Add(float64(n))
}
