// Package router wires the search service routes and applies the middleware
// chain.
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/condition-search/internal/search/handler"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/condition-search/pkg/ratelimit"
)

// Options carries the optional pieces. A nil field drops its routes or
// middleware.
type Options struct {
	Analytics *analytics.Handler
	Health    *health.Checker
	Metrics   *metrics.Metrics
	Limiter   *ratelimit.Limiter
	Keys      apikey.KeyValidator
	// KeyLimiter enforces per-key limits when Keys is set.
	KeyLimiter     *ratelimit.Limiter
	Admin          *apikey.AdminHandler
	RequestTimeout time.Duration
}

// New builds the search service handler.
//
// Route table:
//
//	GET    /api/v1/search                  → condition search (query params)
//	POST   /api/v1/search                  → condition search (JSON body)
//	POST   /api/v1/count                   → count matching documents
//	POST   /api/v1/compile                 → compile a condition, no search
//	GET    /api/v1/filters                 → list saved filters
//	POST   /api/v1/filters                 → save a filter
//	GET    /api/v1/filters/{name}          → get a saved filter
//	DELETE /api/v1/filters/{name}          → delete a saved filter
//	GET    /api/v1/documents/{index}/{id}  → fetch one document
//	HEAD   /api/v1/documents/{index}/{id}  → document exists
//	GET    /api/v1/cache/stats             → condition cache counters
//	POST   /api/v1/cache/invalidate        → drop cached conditions
//	GET    /api/v1/analytics               → aggregated search analytics
//	GET    /api/v1/analytics/snapshots     → persisted analytics snapshots
//	POST   /api/v1/admin/keys              → create an API key
//	GET    /api/v1/admin/keys              → list API keys
//	GET    /health/live, /health/ready     → health
//	GET    /metrics                        → Prometheus
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → Auth → KeyRateLimit → RateLimit → Timeout → mux
func New(h *handler.Handler, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/search", h.Search)
	mux.HandleFunc("POST /api/v1/count", h.Count)
	mux.HandleFunc("POST /api/v1/compile", h.Compile)

	mux.HandleFunc("GET /api/v1/filters", h.ListFilters)
	mux.HandleFunc("POST /api/v1/filters", h.CreateFilter)
	mux.HandleFunc("GET /api/v1/filters/{name}", h.GetFilter)
	mux.HandleFunc("DELETE /api/v1/filters/{name}", h.DeleteFilter)

	// GET patterns also match HEAD, so HEAD needs its own, more specific route.
	mux.HandleFunc("GET /api/v1/documents/{index}/{id}", h.GetDocument)
	mux.HandleFunc("HEAD /api/v1/documents/{index}/{id}", h.DocumentExists)

	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)

	if opts.Analytics != nil {
		mux.HandleFunc("GET /api/v1/analytics", opts.Analytics.Stats)
		mux.HandleFunc("GET /api/v1/analytics/snapshots", opts.Analytics.Snapshots)
	}
	if opts.Admin != nil {
		mux.HandleFunc("POST /api/v1/admin/keys", opts.Admin.CreateKey)
		mux.HandleFunc("GET /api/v1/admin/keys", opts.Admin.ListKeys)
	}
	if opts.Health != nil {
		mux.HandleFunc("GET /health/live", opts.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", opts.Health.ReadyHandler())
	}
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	// applied inside-out
	var chain http.Handler = mux
	if opts.RequestTimeout > 0 {
		chain = middleware.Timeout(opts.RequestTimeout)(chain)
	}
	if opts.Limiter != nil {
		chain = middleware.RateLimit(opts.Limiter)(chain)
	}
	if opts.Keys != nil {
		if opts.KeyLimiter != nil {
			chain = apikey.KeyRateLimit(opts.KeyLimiter)(chain)
		}
		chain = apikey.Authenticate(opts.Keys)(chain)
	}
	if opts.Metrics != nil {
		chain = middleware.Metrics(opts.Metrics)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig())(chain)
	chain = middleware.RequestID(chain)

	return chain
}
