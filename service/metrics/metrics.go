package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Monitoring Session Metrics
	notificationsTotal   *prometheus.CounterVec
	claimsTotal          *prometheus.CounterVec
	classificationsTotal *prometheus.CounterVec
	fallbackTotal        prometheus.Counter
	fetchFailuresTotal   *prometheus.CounterVec
	workerState          *prometheus.GaugeVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// WorkerStates lists every state label a subscription worker can report.
var WorkerStates = []string{"connecting", "subscribed", "listening", "closed", "failed"}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		// Monitoring Session Metrics
		notificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_notifications_total",
				Help: "Total number of log notifications received per subscribed address",
			},
			[]string{"address"},
		),
		claimsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_claims_total",
				Help: "Total number of signature claims by result (won or duplicate)",
			},
			[]string{"result"},
		),
		classificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_classifications_total",
				Help: "Total number of relevant instructions by category",
			},
			[]string{"category"},
		),
		fallbackTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_fallback_total",
				Help: "Total number of transactions that mention an owned account without a direct transfer",
			},
		),
		fetchFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_fetch_failures_total",
				Help: "Total number of abandoned transaction fetches by reason",
			},
			[]string{"reason"},
		),
		workerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "monitor_worker_state",
				Help: "Current state of each subscription worker (1 for the active state, 0 otherwise)",
			},
			[]string{"address", "state"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// Monitoring session metric helpers

// RecordNotification records a notification received on the subscription for address.
func (m *Metrics) RecordNotification(address string) {
	m.notificationsTotal.WithLabelValues(address).Inc()
}

// RecordClaim records the outcome of a deduplication claim.
func (m *Metrics) RecordClaim(won bool) {
	result := "duplicate"
	if won {
		result = "won"
	}
	m.claimsTotal.WithLabelValues(result).Inc()
}

// RecordClassification records a relevant instruction of the given category.
func (m *Metrics) RecordClassification(category string) {
	m.classificationsTotal.WithLabelValues(category).Inc()
}

// RecordFallback records a transaction reported with the fallback line.
func (m *Metrics) RecordFallback() {
	m.fallbackTotal.Inc()
}

// RecordFetchFailure records an abandoned transaction fetch.
func (m *Metrics) RecordFetchFailure(reason string) {
	m.fetchFailuresTotal.WithLabelValues(reason).Inc()
}

// SetWorkerState marks state as the current state of the worker for address.
func (m *Metrics) SetWorkerState(address, state string) {
	for _, s := range WorkerStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.workerState.WithLabelValues(address, s).Set(value)
	}
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
