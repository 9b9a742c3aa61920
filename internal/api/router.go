package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dan22333/theravillage/internal/auth"
	"github.com/dan22333/theravillage/internal/logging"
	"github.com/dan22333/theravillage/internal/metrics"
)

type RouterConfig struct {
	Service  SchedulingService
	Verifier auth.Verifier
	Logger   *zap.Logger
	Metrics  *metrics.HTTPMetrics
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	Dependencies   map[string]Pinger
	Backend        string
	RateLimitRPS   float64
	RateLimitBurst int
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := logging.OrNop(cfg.Logger)
	h := NewHandler(cfg.Service, logger)

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger, cfg.Metrics))

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Backend, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))
		if cfg.RateLimitRPS > 0 {
			r.Use(NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger).Handler)
		}

		r.Route("/calendar", func(r chi.Router) {
			r.With(RequireRole(auth.RoleTherapist)).Route("/therapist/calendar", func(r chi.Router) {
				r.Get("/week/{mondayDate}", h.weekView)
				r.Post("/slots", h.createSlot)
				r.Delete("/slots/{id}", h.deleteSlot)
			})

			r.Get("/scheduling-requests/pending", h.pendingRequests)
			r.With(RequireRole(auth.RoleTherapist)).Post("/scheduling-requests/{id}/respond", h.respondToRequest)
			r.Post("/scheduling-requests/{id}/cancel", h.cancelRequest)

			r.With(RequireRole(auth.RoleClient)).Route("/client", func(r chi.Router) {
				r.Get("/therapist/{id}/available-slots", h.availableSlots)
				r.Post("/scheduling-requests", h.submitRequest)
			})

			r.Get("/notifications", h.notifications)
			r.Post("/notifications/{id}/mark-read", h.markNotificationRead)
		})

		r.With(RequireRole(auth.RoleTherapist)).Route("/therapist/appointments", func(r chi.Router) {
			r.Get("/", h.listAppointments)
			r.Post("/", h.createAppointment)
			r.Get("/{id}", h.getAppointment)
			r.Post("/{id}/reschedule", h.rescheduleAppointment)
			r.Post("/{id}/cancel", h.cancelAppointment)
			r.Post("/{id}/complete", h.completeAppointment)
		})
	})

	return r
}
