// Package metrics provides Prometheus instrumentation for the valuation
// service.
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
	// SnapshotsTotal counts portfolio snapshots by outcome (stored, failed).
	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valuation_snapshots_total",
		Help: "Portfolio snapshots computed",
	}, []string{"result"})

	// SnapshotLatency tracks how long one user's snapshot takes end to end.
	SnapshotLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "valuation_snapshot_latency_seconds",
		Help:    "Per-user snapshot computation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SnapshotRunDuration tracks full snapshot job runs.
	SnapshotRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "valuation_snapshot_run_seconds",
		Help:    "Duration of a full snapshot run in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// ElasticityQuotes counts elasticity quotes by mechanism.
	ElasticityQuotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valuation_elasticity_quotes_total",
		Help: "Elasticity quotes served",
	}, []string{"mechanism"})

	// NonFinitePayouts counts oracle payouts that were NaN or infinite and
	// got valued at zero.
	NonFinitePayouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "valuation_non_finite_payouts_total",
		Help: "Payout oracle results that were not finite",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "valuation_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "valuation_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "valuation_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern prefers the chi route pattern to keep label cardinality
// bounded by the number of routes.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
