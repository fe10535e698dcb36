// Package server wires the HTTP routes of the serve command and applies the
// middleware chain.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Content-Based-Image-Retrieval/pkg/middleware"
)

// Options configures the middleware chain. Zero values disable the
// corresponding middleware.
type Options struct {
	Metrics     *metrics.Metrics
	Limiter     *middleware.Limiter
	CORSOrigins []string
	Timeout     time.Duration
	Logging     bool
}

// New builds the HTTP handler.
//
// Route table:
//
//	POST   /api/v1/query             → rank a stored set against an upload
//	GET    /api/v1/variants          → feature variants
//	GET    /api/v1/sets              → stored sets
//	GET    /api/v1/analytics         → in-process query/build stats
//	GET    /api/v1/cache/stats       → result cache hit rate
//	POST   /api/v1/cache/invalidate  → drop cached rankings
//	GET    /health/live              → liveness
//	GET    /health/ready             → readiness
//
// Middleware chain (outermost first):
//
//	RequestID → Logging → CORS → RateLimit → Timeout → Metrics → handler
func New(h *handler.Handler, stats *analytics.Handler, checker *health.Checker, opts Options) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(opts.Metrics))

	r.HandleFunc("/health/live", checker.LiveHandler()).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", checker.ReadyHandler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/query", h.Query).Methods(http.MethodPost)
	api.HandleFunc("/variants", h.Variants).Methods(http.MethodGet)
	api.HandleFunc("/sets", h.Sets).Methods(http.MethodGet)
	api.HandleFunc("/analytics", stats.Stats).Methods(http.MethodGet)
	api.HandleFunc("/cache/stats", h.CacheStats).Methods(http.MethodGet)
	api.HandleFunc("/cache/invalidate", h.CacheInvalidate).Methods(http.MethodPost)

	var chain http.Handler = r
	chain = middleware.Timeout(opts.Timeout)(chain)
	chain = middleware.RateLimit(opts.Limiter)(chain)
	chain = middleware.CORS(middleware.DefaultCORSConfig(opts.CORSOrigins))(chain)
	if opts.Logging {
		chain = middleware.Logging(chain)
	}
	chain = middleware.RequestID(chain)

	return chain
}
