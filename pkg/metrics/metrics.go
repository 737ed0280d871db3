// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// CacheLookupsTotal tracks response cache lookups by outcome.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_lookups_total",
			Help: "Response cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// CacheEvictionsTotal tracks response cache evictions by reason.
	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_evictions_total",
			Help: "Response cache evictions by reason",
		},
		[]string{"reason"},
	)

	// GatewayRequestsTotal tracks requests issued to the inference gateway.
	GatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests issued to the inference gateway",
		},
		[]string{"mode", "result"},
	)

	// GatewayRetriesTotal tracks gateway request retries.
	GatewayRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Gateway request retries",
		},
	)

	// GatewayRequestDuration tracks full gateway round trips.
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Gateway request duration including retries",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"mode"},
	)

	// StreamDeltasTotal tracks text deltas decoded from gateway streams.
	StreamDeltasTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stream_deltas_total",
			Help: "Text deltas decoded from gateway streams",
		},
	)

	// SendsInFlight tracks sends currently being processed.
	SendsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sends_in_flight",
			Help: "Sends currently being processed",
		},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// PersistenceFailuresTotal tracks failed durable-store writes.
	PersistenceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "persistence_failures_total",
			Help: "Failed durable-store writes",
		},
		[]string{"entity"},
	)

	// NotificationsTotal tracks user-facing notifications by level.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "User-facing notifications by level",
		},
		[]string{"level"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total messages appended to the in-memory view.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Messages appended to conversation state",
		},
		[]string{"role"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCacheLookup records a response cache lookup outcome ("hit" or "miss").
func RecordCacheLookup(outcome string) {
	CacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordGatewayRequest records a completed gateway call.
func RecordGatewayRequest(mode, result string, duration float64) {
	GatewayRequestsTotal.WithLabelValues(mode, result).Inc()
	GatewayRequestDuration.WithLabelValues(mode).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
