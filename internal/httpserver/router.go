package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"chatrelay/internal/graph"
	"chatrelay/internal/handlers"
	"chatrelay/internal/metrics"
	"chatrelay/internal/middleware"
)

// Variant selects which surfaces a deployment exposes.
type Variant string

const (
	// VariantServe exposes REST at /api/chat and GraphQL at /graphql.
	VariantServe Variant = "serve"
	// VariantEdge exposes only GraphQL, at /graphql and /.
	VariantEdge Variant = "edge"
)

const notFoundHint = "use /graphql to access the GraphQL API"

type Options struct {
	Variant        Variant
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

type notFoundResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, opts Options, chatHandler *handlers.ChatHandler, graphHandler *graph.Handler) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	if opts.MaxBodyBytes > 0 {
		r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
	}

	// CORS on every path, OPTIONS answered before routing
	r.Use(middleware.CORS())
	r.Use(middleware.Preflight)

	// routes
	r.Handle("/graphql", graphHandler)
	switch opts.Variant {
	case VariantEdge:
		r.Handle("/", graphHandler)
	default:
		r.HandleFunc("/api/chat", chatHandler.Chat)
	}

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())

	r.NotFound(notFound)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(notFoundResponse{
		Error:   "path not found",
		Message: notFoundHint,
		Path:    r.URL.Path,
	})
}
