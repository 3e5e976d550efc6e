package handler

import (
	"net/http"
	"time"

	"github.com/pucknotes/note-discovery/internal/ratelimit"
	"github.com/pucknotes/note-discovery/pkg/health"
	"github.com/pucknotes/note-discovery/pkg/metrics"
	"github.com/pucknotes/note-discovery/pkg/middleware"
)

type RouterConfig struct {
	AllowOrigins   []string
	RequestTimeout time.Duration
	Limiter        *ratelimit.Limiter
	Metrics        *metrics.Metrics
}

// NewRouter builds the discovery API.
//
// Route table:
//
//	POST   /api/v1/sessions                create a session
//	GET    /api/v1/sessions/{id}           current snapshot
//	DELETE /api/v1/sessions/{id}           drop a session
//	PUT    /api/v1/sessions/{id}/context   new discovery context (full pass)
//	PUT    /api/v1/sessions/{id}/sort      new sort (full pass)
//	PUT    /api/v1/sessions/{id}/filters   new filter selection (re-filter only)
//	POST   /api/v1/sessions/{id}/clear     reset filters and sort
//	POST   /api/v1/sessions/{id}/refresh   bump refresh epoch
//	GET    /api/v1/sessions/{id}/stream    WebSocket snapshot stream
//	GET    /api/v1/schools                 school list
//	GET    /api/v1/majors                  major list, ?schoolId= to narrow
//	POST   /api/v1/refresh                 bump refresh across sessions
//	POST   /api/v1/cache/invalidate        empty the shared section cache
//	GET    /health/live, /health/ready     probes
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → RateLimit → Timeout → mux
func NewRouter(h *Handler, checker *health.Checker, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	mux.HandleFunc("POST /api/v1/sessions", h.CreateSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", h.DeleteSession)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/context", h.SetContext)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/sort", h.SetSort)
	mux.HandleFunc("PUT /api/v1/sessions/{id}/filters", h.SetFilters)
	mux.HandleFunc("POST /api/v1/sessions/{id}/clear", h.ClearFilters)
	mux.HandleFunc("POST /api/v1/sessions/{id}/refresh", h.RefreshSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/stream", h.Stream)

	mux.HandleFunc("GET /api/v1/schools", h.ListSchools)
	mux.HandleFunc("GET /api/v1/majors", h.ListMajors)
	mux.HandleFunc("POST /api/v1/refresh", h.RefreshAll)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.InvalidateCache)

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.RequestTimeout)(chain)
	if cfg.Limiter != nil {
		chain = ratelimit.Middleware(cfg.Limiter)(chain)
	}
	if cfg.Metrics != nil {
		chain = middleware.Metrics(cfg.Metrics)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowOrigins))(chain)
	chain = middleware.RequestID(chain)
	return chain
}
