package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: how many relay calls were answered from the exact cache.
	ExactHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_exact_cache_hits_total",
			Help: "Total number of exact cache hits.",
		},
	)

	// Histogram: HTTP latency in seconds, labelled by route pattern.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method", "status_code"},
	)

	// Counter: relay calls by outcome ("ok" or an error kind).
	RelayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_relay_requests_total",
			Help: "Chat relay calls by outcome.",
		},
		[]string{"outcome"},
	)

	// Counter: tokens reported by the upstream usage block.
	RelayTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_relay_tokens_total",
			Help: "Tokens reported by the upstream model, by token type.",
		},
		[]string{"type"},
	)

	// Histogram: time spent waiting on the upstream model.
	UpstreamLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_upstream_latency_seconds",
			Help:    "Upstream chat-completion latency in seconds.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	registerOnce sync.Once
)

// Register registers all collectors with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ExactHitsTotal,
			GatewayLatencySeconds,
			RelayRequestsTotal,
			RelayTokensTotal,
			UpstreamLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRelay records one relay call.
func ObserveRelay(outcome string, promptTokens, completionTokens int) {
	RelayRequestsTotal.WithLabelValues(outcome).Inc()
	if promptTokens > 0 {
		RelayTokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		RelayTokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
	}
}

// Middleware measures latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		GatewayLatencySeconds.
			WithLabelValues(routeLabel(r), r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

// routeLabel uses the matched chi pattern so unknown paths do not explode label cardinality.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
