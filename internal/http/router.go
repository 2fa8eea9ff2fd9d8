package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/hotel-reservations-admin/internal/observability"
)

func SetupRouter(h *Handlers, logger observability.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)

	r.Route("/v1/reservations", func(r chi.Router) {
		r.Get("/", h.ListReservations)
		r.Post("/", h.CreateReservation)
		r.Get("/range", h.ListReservationsByDateRange)
		r.Get("/live", h.LiveState)
		r.Get("/stream", h.Stream)
		r.Patch("/{id}", h.UpdateReservation)
		r.Post("/{id}/cancel", h.CancelReservation)
	})

	r.Get("/admin/reservations", h.AdminReservations)
	r.Post("/admin/reservations/{id}/cancel", h.AdminCancel)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
