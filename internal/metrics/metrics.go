// Package metrics provides Prometheus instrumentation for the treasury engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActivationsTotal counts activation attempts by outcome
	// (activated, confirmation_required, rejected, duplicate, failed).
	ActivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_activations_total",
		Help: "Structure activation attempts by outcome",
	}, []string{"outcome"})

	// GateWarnings counts soft gate trips by gate.
	GateWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_gate_warnings_total",
		Help: "Soft activation gate warnings by gate",
	}, []string{"gate"})

	// EntriesPosted counts cash-flow entries written, by entry type.
	EntriesPosted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_ledger_entries_posted_total",
		Help: "Cash-flow entries posted by type",
	}, []string{"type"})

	// CustodyUpdates counts custody row changes by action (buy, sell, delete).
	CustodyUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_custody_updates_total",
		Help: "Custody row updates by action",
	}, []string{"action"})

	// RollsTotal counts executed rolls.
	RollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "treasury_rolls_total",
		Help: "Number of rolls executed",
	})

	// PersistenceErrors counts store failures that interrupted an operation.
	PersistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_persistence_errors_total",
		Help: "Store failures by operation",
	}, []string{"op"})

	// OrphanedEntries is the number of orphaned entries found by the last scan.
	OrphanedEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_orphaned_entries",
		Help: "Cash-flow entries whose structure no longer exists",
	})

	// OperationLatency tracks engine operation latency.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "treasury_operation_latency_seconds",
		Help:    "Engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "treasury_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "treasury_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveSince records the time elapsed since start for op.
func ObserveSince(op string, start time.Time) {
	OperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over connections served through
// the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
