package api

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/secshare/secshare/config"
	"github.com/secshare/secshare/internal/registry"
)

func SetupRouter(reg *registry.Registry, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	h := NewHandler(reg, cfg, logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health
	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(JSONOnly)

		if cfg.RateLimit.Enabled {
			apiLimiter := NewRateLimiter(cfg.RateLimit.RequestsPerMin, time.Minute)
			retrieveLimiter := NewRateLimiter(cfg.RateLimit.RetrievePerMin, time.Minute)

			r.Use(apiLimiter.Middleware)

			r.Route("/transfers", func(r chi.Router) {
				r.Post("/", h.CreateTransfer)
				r.With(retrieveLimiter.Middleware).Get("/{id}", h.RetrieveTransfer)
			})
		} else {
			r.Route("/transfers", func(r chi.Router) {
				r.Post("/", h.CreateTransfer)
				r.Get("/{id}", h.RetrieveTransfer)
			})
		}

		r.Get("/users/{user}/usage", h.GetUsage)
		r.Get("/tiers/{tier}", h.GetTierLimits)
	})

	return r
}
