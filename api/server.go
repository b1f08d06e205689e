/*
server.go - HTTP router and middleware configuration

ROUTER: chi

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the form frontend

ROUTE GROUPS:
  /api/types        Record type schemas
  /api/records/*    Submission and own-records review
  /api/admin/*      Privileged all-records view
  /metrics          Prometheus
  /healthz          Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", AdminSecretHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/types", h.ListTypes)

		r.Route("/records", func(r chi.Router) {
			r.Get("/mine", h.MyRecords)
			r.Post("/{type}", h.SubmitRecord)
			r.Get("/{type}/next-id", h.NextID)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/records", h.AllRecords)
			r.Get("/integrity", h.IntegrityReport)
			r.Post("/integrity", h.RunIntegrityCheck)
		})
	})

	r.Handle("/metrics", h.Metrics.Handler())
	r.Get("/healthz", h.Health)

	return r
}
