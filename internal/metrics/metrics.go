// Package metrics provides Prometheus metrics for the studydesk server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studydesk/internal/domain"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studydesk_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studydesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Gateway metrics
	gatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studydesk_gateway_call_duration_seconds",
			Help:    "Persistence gateway call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	gatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studydesk_gateway_calls_total",
			Help: "Total persistence gateway calls",
		},
		[]string{"op", "status"},
	)

	// Tree metrics
	rollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studydesk_tree_rollbacks_total",
			Help: "Optimistic changes compensated after a gateway failure",
		},
		[]string{"op", "result"},
	)

	treeRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studydesk_tree_refresh_duration_seconds",
			Help:    "Time to reload a tree from the gateway",
			Buckets: prometheus.DefBuckets,
		},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studydesk_sessions_active",
			Help: "Number of open owner sessions",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "studydesk_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studydesk_sse_events_total",
			Help: "Total SSE events written",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGatewayCall records one persistence gateway call. A call the remote
// refused for a tree reason (missing id, bad parent, cycle) counts as rejected.
func RecordGatewayCall(op string, duration time.Duration, err error) {
	gatewayCallDuration.WithLabelValues(op).Observe(duration.Seconds())
	gatewayCallsTotal.WithLabelValues(op, callStatus(err)).Inc()
}

// RecordRollback records a compensation attempt; applied is false when a
// newer change had already superseded it.
func RecordRollback(op string, applied bool) {
	result := "applied"
	if !applied {
		result = "superseded"
	}
	rollbacksTotal.WithLabelValues(op, result).Inc()
}

// RecordTreeRefresh records tree reload duration.
func RecordTreeRefresh(duration time.Duration) {
	treeRefreshDuration.Observe(duration.Seconds())
}

// SetSessionsActive sets the number of open sessions.
func SetSessionsActive(count int) {
	sessionsActive.Set(float64(count))
}

// SSEConnectionOpened increments the active SSE connection gauge.
func SSEConnectionOpened() {
	sseConnectionsActive.Inc()
}

// SSEConnectionClosed decrements the active SSE connection gauge.
func SSEConnectionClosed() {
	sseConnectionsActive.Dec()
}

// RecordSSEEvent records an SSE event written to a client.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

func callStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsStructural(err):
		return "rejected"
	default:
		return "error"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// Requests are labelled by their mux pattern, not the raw path, so item ids
// don't explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
