// Package metrics provides Prometheus instrumentation for the synth engine.
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
	// QuotesTotal counts swap quotes served, by route kind.
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synth_quotes_total",
		Help: "Total number of swap quotes computed",
	}, []string{"route"})

	// QuoteLatency tracks how long quoting takes, including the snapshot read.
	QuoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synth_quote_latency_seconds",
		Help:    "Quote computation latency in seconds",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}, []string{"route"})

	// StaleQuotes counts quotes served from a snapshot older than the
	// configured staleness window.
	StaleQuotes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "synth_stale_quotes_total",
		Help: "Quotes computed from stale pool snapshots",
	})

	// Rejections counts domain rejections by error code.
	Rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synth_rejections_total",
		Help: "Requests rejected by engine validation",
	}, []string{"code"})

	// IntentsBuilt counts intents handed back to callers, by kind.
	IntentsBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synth_intents_built_total",
		Help: "Transaction intents built",
	}, []string{"kind"})

	// KnownPools tracks the number of pools in the current snapshot.
	KnownPools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synth_known_pools",
		Help: "Number of pools in the current snapshot",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "synth_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "synth_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synth_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern rather than raw path so owner
// addresses and pair keys do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack passes through to the underlying writer for WebSocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer cannot be hijacked")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
