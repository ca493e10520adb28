/**
 * @description
 * This file sets up the HTTP router for the certification service using the go-chi/chi router.
 * It defines the API routes, applies middleware for logging, CORS, and authentication,
 * and maps the routes to their corresponding handler functions.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterOptions carries the security settings the router needs.
type RouterOptions struct {
	JWTSecret         string
	TrustUserIDHeader bool
	InternalAPIKey    string
	AllowedOrigins    []string
}

// NewRouter creates a new Chi router and registers the certification routes.
func NewRouter(h *Handlers, opts RouterOptions, logger *zap.Logger) *chi.Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", userIDHeader, "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Certification service is healthy"))
	})

	// Protected routes that require authentication
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(opts.JWTSecret, opts.TrustUserIDHeader))
		r.Use(h.ProvisionAccount)

		r.Get("/accounts/me", h.MeHandler)
		r.Post("/communities", h.CreateCommunityHandler)
		r.Route("/communities/{communityRef}", func(r chi.Router) {
			r.Patch("/schedule", h.UpdateScheduleHandler)
			r.Post("/members", h.JoinCommunityHandler)
			r.Post("/certifications", h.CertifyHandler)
			r.Get("/certifications/today", h.CertifiedTodayHandler)
			r.Get("/rankings", h.RankingsHandler)
			r.Get("/hall-of-shame", h.HallOfShameHandler)
		})
		r.Delete("/certifications/{submissionID}", h.WithdrawHandler)
	})

	// Internal service-to-service routes
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(opts.InternalAPIKey))
		r.Post("/internal/sweeps", h.RunSweepHandler)
	})

	return r
}
