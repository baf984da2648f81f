// Package metrics provides Prometheus instrumentation for the portfolio engine.
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
	// MutationsTotal counts facade mutations by operation and outcome
	// (ok, or the error category).
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_mutations_total",
		Help: "Total number of portfolio mutations",
	}, []string{"operation", "outcome"})

	MutationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_mutation_latency_seconds",
		Help:    "Mutation latency in seconds, price lookup included",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// ClosedAssets counts assets deleted because their amount reached zero.
	ClosedAssets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_closed_assets_total",
		Help: "Assets closed by a full sell",
	})

	// PriceLookups counts gateway lookups by path (primary, fallback, cache)
	// and outcome (hit, miss, error).
	PriceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_price_lookups_total",
		Help: "Price gateway lookups by path and outcome",
	}, []string{"path", "outcome"})

	// StalePriceFallbacks counts transactions valued at the asset's cached
	// price because the provider was unavailable.
	StalePriceFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portfolio_stale_price_fallbacks_total",
		Help: "Transactions recorded with the cached asset price",
	})

	AdviceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_advice_requests_total",
		Help: "Advice requests by outcome (ok, degraded)",
	}, []string{"outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portfolio_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portfolio_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portfolio_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveMutation records one facade mutation.
func ObserveMutation(operation, outcome string, start time.Time) {
	MutationsTotal.WithLabelValues(operation, outcome).Inc()
	MutationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps ids out of the label set.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
