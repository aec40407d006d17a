/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap request logging; the request logger rides the context
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the planning frontend

ROUTE GROUPS:
  /api/groupings/*      Estimate rules per grouping
  /api/estimates/*      Dry-run computation
  /api/holidays/*       Holiday calendar
  /api/task-types/*     Task type side table
  /health               Liveness

SECURITY NOTE:
  No authentication middleware. Deploy behind the gateway that fronts the
  rest of the backend.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/estimate-engine/logging"
)

// DefaultAllowedOrigins are the dev frontends allowed when none are configured.
var DefaultAllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		// Grouping routes
		r.Route("/groupings", func(r chi.Router) {
			r.Post("/", h.CreateGrouping)
			r.Get("/{groupingID}", h.GetGrouping)
			r.Put("/{groupingID}/rules", h.ReplaceRules)
			r.Get("/{groupingID}/rules", h.ListRules)
			r.Get("/{groupingID}/rules.xlsx", h.ExportRules)
			r.Delete("/{groupingID}/rules", h.DeleteRules)
		})

		r.Post("/estimates/preview", h.PreviewEstimate)

		// Holiday routes
		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.ListHolidays)
			r.Post("/", h.CreateHoliday)
			r.Post("/import", h.ImportHolidays)
			r.Delete("/{id}", h.DeleteHoliday)
		})

		r.Put("/task-types/{taskID}", h.SetTaskType)
	})

	return r
}

// RequestLogger logs each request with zap and stores a request-scoped
// logger in the context for handlers and the estimate service.
func RequestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(logging.ContextWithLogger(r.Context(), logger)))

			logger.Info("request completed",
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
