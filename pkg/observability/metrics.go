// Package observability provides Prometheus metrics and a small HTTP
// server exposing them alongside a health endpoint.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Chat request metrics
	chatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaigo_chat_requests_total",
			Help: "Total number of chat requests by outcome",
		},
		[]string{"status"},
	)

	chatRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kaigo_chat_request_duration_seconds",
			Help:    "Chat request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kaigo_chat_retries_total",
			Help: "Total number of retried chat messages",
		},
	)

	cancellationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kaigo_chat_cancellations_total",
			Help: "Total number of cancelled in-flight chat requests",
		},
	)

	// Persistence metrics
	persistOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaigo_persist_operations_total",
			Help: "Total number of session persist operations by outcome",
		},
		[]string{"status"},
	)

	// Session metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaigo_sessions_active",
			Help: "Number of sessions in the local collection",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers the kaigo metrics with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			chatRequestsTotal,
			chatRequestDuration,
			retriesTotal,
			cancellationsTotal,
			persistOperationsTotal,
			activeSessions,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordChatRequest records one chat request outcome.
// Status is one of "ok", "error", "cancelled", "superseded".
func RecordChatRequest(status string, duration time.Duration) {
	chatRequestsTotal.WithLabelValues(status).Inc()
	chatRequestDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRetry records a retried chat message.
func RecordRetry() {
	retriesTotal.Inc()
}

// RecordCancellation records a cancelled in-flight chat request.
func RecordCancellation() {
	cancellationsTotal.Inc()
}

// RecordPersist records a session persist outcome ("ok" or "error").
func RecordPersist(status string) {
	persistOperationsTotal.WithLabelValues(status).Inc()
}

// SetActiveSessions sets the session collection size gauge.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}
