package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/secassist/internal/api/handler"
	customMiddleware "github.com/Rrens/secassist/internal/api/middleware"
	"github.com/Rrens/secassist/internal/config"
	"github.com/Rrens/secassist/internal/llm"
	"github.com/Rrens/secassist/internal/security"
	"github.com/Rrens/secassist/internal/service"
	"github.com/Rrens/secassist/internal/session"
)

// Dependencies are the components the HTTP adapter drives
type Dependencies struct {
	Config        *config.Config
	Store         *session.Store
	Providers     *llm.Router
	Chat          *service.ChatService
	Fixes         *service.FixService
	Confirmations *service.PendingConfirmations
	Events        *handler.EventHub
	// JWT is nil when client authentication is disabled
	JWT *security.JWTManager
	// RateLimiter is nil when redis is disabled
	RateLimiter customMiddleware.Limiter
}

// NewRouter creates and configures the HTTP router
func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	events := deps.Events
	if events == nil {
		events = handler.NewEventHub()
	}

	sessionHandler := handler.NewSessionHandler(deps.Store, deps.Chat)
	fixHandler := handler.NewFixHandler(deps.Fixes, deps.Confirmations, cfg.Workspace.Root)

	authenticate := func(next http.Handler) http.Handler { return next }
	if deps.JWT != nil {
		authenticate = customMiddleware.NewAuthMiddleware(deps.JWT).Authenticate
	} else {
		log.Warn().Msg("JWT secret not set, API is unauthenticated")
	}

	limit := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		limit = customMiddleware.NewRateLimitMiddleware(deps.RateLimiter).Limit
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Store))

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Get("/providers", handler.ListProviders(deps.Providers))
			r.Get("/state", sessionHandler.State)
			r.Get("/events", handler.Events(deps.Store, events))

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", sessionHandler.Create)
				r.Delete("/", sessionHandler.ClearAll)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Patch("/", sessionHandler.Rename)
					r.Delete("/", sessionHandler.Delete)
					r.Post("/select", sessionHandler.Select)
					r.Post("/cancel", sessionHandler.Cancel)
					r.With(limit).Post("/messages", sessionHandler.SendMessage)
				})
			})

			r.Route("/fixes", func(r chi.Router) {
				r.With(limit).Post("/", fixHandler.Start)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/pending", fixHandler.Pending)
					r.Post("/confirm", fixHandler.Confirm)
					r.Post("/cancel", fixHandler.Cancel)
				})
			})
		})
	})

	return r
}
