package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/catalog", h.Catalog)

		r.Route("/challenge", func(r chi.Router) {
			r.Use(SourceMiddleware)

			r.Get("/", h.GetChallenge)
			r.Get("/summary", h.Summary)
			r.Get("/calendar", h.Calendar)
			r.Get("/weights/{user}", h.Weights)
			r.Get("/events", h.Events)
			r.Get("/sync/delta", h.SyncDelta)

			r.Put("/start-date", h.UpdateStartDate)
			r.Post("/reset", h.Reset)

			r.Route("/days/{day}/users/{user}", func(r chi.Router) {
				r.Post("/toggle", h.ToggleDay)
				r.Post("/tasks/toggle", h.ToggleTask)
				r.Put("/weight", h.UpdateWeight)
				r.Put("/calories", h.UpdateCalories)
			})
		})
	})

	return r
}
