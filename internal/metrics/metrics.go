// Package metrics provides Prometheus instrumentation for the exchange engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BetsTotal counts bets placed, partitioned by outcome side.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictex_bets_total",
		Help: "Total number of bets placed",
	}, []string{"outcome"})

	// BetLatency is the end-to-end bet execution latency.
	BetLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predictex_bet_latency_seconds",
		Help:    "Bet execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	// FillsTotal counts individual fills by kind (direct, arbitrage,
	// redemption) and source (pool or order).
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictex_fills_total",
		Help: "Total number of fills executed",
	}, []string{"kind", "source"})

	// FeesCollected accumulates fees by recipient.
	FeesCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictex_fees_collected_total",
		Help: "Cumulative fees collected",
	}, []string{"recipient"})

	// ResolutionsTotal counts market resolutions by outcome.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictex_resolutions_total",
		Help: "Total number of market resolutions",
	}, []string{"outcome"})

	// ActiveMarkets tracks the number of open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predictex_active_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "predictex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "predictex_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// SolverIterations tracks candidate evaluations per multi-answer solve.
	SolverIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "predictex_solver_iterations",
		Help:    "Candidate evaluations per multi-answer arbitrage solve",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	// MarketVolume tracks cumulative bet volume per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "predictex_market_volume_total",
		Help: "Cumulative bet volume",
	}, []string{"market_id", "outcome"})
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
