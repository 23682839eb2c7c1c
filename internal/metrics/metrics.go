// Package metrics provides Prometheus instrumentation for the game engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChoicesTotal counts accepted ticker decisions, partitioned by the
	// choice made (one increment per ticker per submission).
	ChoicesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradingroom_choices_total",
		Help: "Total ticker decisions accepted, by choice",
	}, []string{"choice"})

	// RoundsSubmitted counts accepted round submissions.
	RoundsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradingroom_rounds_submitted_total",
		Help: "Total round submissions accepted",
	})

	// SubmitLatency tracks end-to-end submit handling time.
	SubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradingroom_submit_latency_seconds",
		Help:    "Submission handling latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ActiveSessions tracks the number of in-memory participant sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradingroom_active_sessions",
		Help: "Number of participant sessions currently in memory",
	})

	// SessionsCompleted counts sessions that reached the final round.
	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradingroom_sessions_completed_total",
		Help: "Sessions that advanced past the final round",
	})

	// LogErrors counts durable log failures surfaced to the operator.
	LogErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradingroom_log_errors_total",
		Help: "Durable submission log failures",
	})

	// WebSocketClients tracks connected scoreboard clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradingroom_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradingroom_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradingroom_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded per classroom.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code. It
// forwards Hijack and Flush so WebSocket upgrades and streaming responses
// still work through the middleware.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
