// Package metrics registers the Prometheus metrics used by the gateway.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request and attempt level counters and histograms.
var (
	// RequestsTotal counts completed client-facing requests labelled by
	// cli_key and status ("success" or "error").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests processed by the gateway.",
		},
		[]string{"cli_key", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"cli_key"},
	)

	// AttemptsTotal counts individual failover-loop attempts labelled by
	// provider and the failover attempt outcome (e.g. "success_buffered",
	// "server_error").
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_attempts_total",
			Help: "Total provider attempts made by the failover loop.",
		},
		[]string{"provider", "outcome"},
	)

	// TokensInput counts total prompt tokens sent to providers.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_input_total",
			Help: "Total prompt tokens sent to providers.",
		},
		[]string{"provider", "model"},
	)

	// TokensOutput counts total completion tokens received from providers.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_output_total",
			Help: "Total completion tokens received from providers.",
		},
		[]string{"provider", "model"},
	)

	// ProviderErrors counts errors broken down by provider and gwerr code.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Total provider errors by gwerr code.",
		},
		[]string{"provider", "code"},
	)

	// CircuitState tracks per-provider circuit breaker state as a gauge:
	// 0 = closed, 1 = open.
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_state",
			Help: "Circuit breaker state per provider (0=closed 1=open).",
		},
		[]string{"provider"},
	)

	// CostFemtoTotal accumulates attributed cost, in femto-USD, labelled by
	// cli_key and model.
	CostFemtoTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_cost_femto_usd_total",
			Help: "Total attributed cost in femto-USD (1 USD = 1e15 units).",
		},
		[]string{"cli_key", "model"},
	)

	// LogWriterDropped counts request-log entries dropped because the bounded
	// writer channel was full.
	LogWriterDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_log_writer_dropped_total",
			Help: "Total request-log entries dropped due to writer backpressure.",
		},
	)

	// EventBusDropped counts event-bus messages dropped because a subscriber
	// fell behind, labelled by topic.
	EventBusDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_event_bus_dropped_total",
			Help: "Total event bus messages dropped by a slow subscriber.",
		},
		[]string{"topic"},
	)

	// SessionsActive gauges the current count of active sticky session
	// bindings.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_sessions_active",
			Help: "Current number of active sticky session bindings.",
		},
	)
)
