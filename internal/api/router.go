package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agentrelay/relay/internal/api/middleware"
	"github.com/agentrelay/relay/internal/config"
	"github.com/agentrelay/relay/internal/handlers"
	"github.com/agentrelay/relay/internal/store"
)

// signatureWindow bounds how far a signed timestamp may drift from server
// time before the request is rejected as stale.
const signatureWindow = 5 * time.Minute

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, st store.DataStore, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.RequireJSON)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - allow all origins (agents call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Content-Type",
			middleware.HeaderAgent, middleware.HeaderSignature,
			middleware.HeaderTimestamp, middleware.HeaderAdminSecret,
		},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(st, logger)
	auth := middleware.NewAuthMiddleware(st, cfg.AdminSecret, signatureWindow)
	limiter := middleware.NewRateLimiter(logger, middleware.RateLimiterConfig{
		Requests:  10,
		Window:    time.Second,
		Whitelist: cfg.RateLimitWhitelist,
	})

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Operational surface (exempt from rate limiting so deployment
	// platform probes never see a 429)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	// Registry and relay, rate limited per claimed identity (or IP)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)

		// Public registry routes (no auth required)
		r.Post("/registry/agents", h.Register)
		r.Get("/registry/agents", h.Directory)

		// Administrator routes (shared secret)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Post("/registry/agents/{name}/approve", h.Approve)
			r.Post("/registry/agents/{name}/revoke", h.Revoke)
		})

		// Relay routes (agent signature)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAgent)
			r.Post("/relay/send", h.Send)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireSelf)
				r.Get("/relay/inbox/{agent}", h.Inbox)
				r.Post("/relay/inbox/{agent}/ack", h.Ack)
			})
		})
	})

	return r
}
