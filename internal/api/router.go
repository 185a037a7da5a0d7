// Package api provides the HTTP API for the application.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"norelock.dev/listenify/bragi/internal/api/handlers"
	appMiddleware "norelock.dev/listenify/bragi/internal/api/middleware"
	"norelock.dev/listenify/bragi/internal/rpc"
	"norelock.dev/listenify/bragi/internal/services/media"
	"norelock.dev/listenify/bragi/internal/services/system"
	"norelock.dev/listenify/bragi/internal/utils"
	"norelock.dev/listenify/bragi/pkg/jsonrpc"
)

// Router is the main HTTP router for the API.
type Router struct {
	*chi.Mux
	logger *utils.Logger
}

// Dependencies are the services the router exposes. Verifier, Limiter and
// RPC may be nil to leave the respective feature off.
type Dependencies struct {
	Media          media.Service
	Health         *system.HealthService
	Metrics        *system.MetricsService
	Verifier       appMiddleware.TokenVerifier
	Limiter        *utils.RateLimiter
	Dispatcher     *jsonrpc.Server
	RPC            *rpc.Server
	AllowedOrigins []string
}

// NewRouter creates a new API router.
func NewRouter(deps Dependencies, logger *utils.Logger) *Router {
	r := chi.NewRouter()
	apiLogger := logger.Named("api")

	// Create middleware
	recoveryMiddleware := appMiddleware.NewRecoveryMiddleware(apiLogger)
	loggerMiddleware := appMiddleware.NewLoggerMiddleware(apiLogger)
	corsMiddleware := appMiddleware.NewCORSMiddleware(deps.AllowedOrigins, apiLogger)
	authMiddleware := appMiddleware.NewAuthMiddleware(deps.Verifier, apiLogger)

	// Create handlers
	mediaHandler := handlers.NewMediaHandler(deps.Media, apiLogger)
	healthHandler := handlers.NewHealthHandler(apiLogger, deps.Health)

	// Apply global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoveryMiddleware.Recovery)
	if deps.Metrics != nil {
		r.Use(appMiddleware.Metrics(deps.Metrics))
	}
	r.Use(loggerMiddleware.Logger)
	r.Use(corsMiddleware.CORS)
	r.Use(middleware.Heartbeat("/ping"))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithJSON(w, http.StatusNotFound, utils.APIResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.RespondWithJSON(w, http.StatusMethodNotAllowed, utils.APIResponse{Error: "method not allowed"})
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	r.Get("/health", healthHandler.Check)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Get("/health", healthHandler.Check)
		r.Get("/providers", mediaHandler.Providers)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			if deps.Limiter != nil {
				r.Use(utils.RateLimitMiddleware(deps.Limiter, utils.DefaultKeyFunc))
			}

			r.With(authMiddleware.RequireScope(rpc.MethodSuggest)).Get("/suggest", mediaHandler.Suggest)
			r.With(authMiddleware.RequireScope(rpc.MethodSearch)).Get("/search", mediaHandler.Search)
			r.With(authMiddleware.RequireScope(rpc.MethodDetail)).Get("/detail/{provider}/{id}", mediaHandler.Detail)
			r.With(authMiddleware.RequireScope(rpc.MethodStream)).Get("/stream/{provider}/{id}", mediaHandler.Stream)
		})
	})

	// JSON-RPC: WebSocket upgrades authenticate themselves, plain POSTs go
	// through the same guard as the REST routes.
	if deps.RPC != nil {
		r.Get("/rpc", deps.RPC.HandleWebSocket)
	}
	if deps.Dispatcher != nil {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			if deps.Limiter != nil {
				r.Use(utils.RateLimitMiddleware(deps.Limiter, utils.DefaultKeyFunc))
			}
			r.Post("/rpc", deps.Dispatcher.ServeHTTP)
		})
	}

	return &Router{
		Mux:    r,
		logger: apiLogger,
	}
}
