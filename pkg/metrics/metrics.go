// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks inbound HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total inbound HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// QueueDepth tracks pending items per request queue.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of requests waiting in a queue",
		},
		[]string{"queue"},
	)

	// QueueDispatchTotal tracks dispatch outcomes per queue.
	QueueDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dispatch_total",
			Help: "Dispatched queue requests by outcome",
		},
		[]string{"queue", "outcome"},
	)

	// QueueRetriesTotal tracks scheduled retries per queue and error kind.
	QueueRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_retries_total",
			Help: "Retries scheduled by the request queue",
		},
		[]string{"queue", "kind"},
	)

	// RateLimitWaitSeconds tracks time spent waiting on the rate governor.
	RateLimitWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rate_limit_wait_seconds",
			Help:    "Time spent waiting for the rate window to reset",
			Buckets: []float64{.1, .5, 1, 5, 10, 20, 30, 45, 60},
		},
		[]string{"queue"},
	)

	// ErrorsTotal tracks classified errors.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Classified errors by kind and severity",
		},
		[]string{"kind", "severity"},
	)

	// RecoveryActionsTotal tracks executed recovery actions.
	RecoveryActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_actions_total",
			Help: "Executed recovery actions by outcome",
		},
		[]string{"action", "outcome"},
	)

	// LLMRequestDuration tracks outbound completion/transcription latency.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "Outbound LLM and speech request duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"provider", "operation", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// ConversationsActive tracks conversations held in the history cache.
	ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversations_active",
			Help: "Conversations currently held in the history cache",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMRequest records metrics for an outbound provider call.
func RecordLLMRequest(provider, operation, status string, duration float64) {
	LLMRequestDuration.WithLabelValues(provider, operation, status).Observe(duration)
}

// RecordTokens records token usage for a completion.
func RecordTokens(model string, tokensIn, tokensOut int) {
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordError records a classified error occurrence.
func RecordError(kind, severity string) {
	ErrorsTotal.WithLabelValues(kind, severity).Inc()
}
