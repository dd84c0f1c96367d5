package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/maumercado/claim-resolver/internal/api/handlers"
	apiMiddleware "github.com/maumercado/claim-resolver/internal/api/middleware"
	"github.com/maumercado/claim-resolver/internal/config"
	"github.com/maumercado/claim-resolver/internal/queue"
	"github.com/maumercado/claim-resolver/internal/resolver"
)

// Server is the observability HTTP server: /admin/health, /admin/resolver/
// stats, /admin/exceptions, /admin/claimants, and /metrics. Task submission, worker pause/resume, and DLQ
// management are dropped with the teacher's worker-facing API surface —
// see DESIGN.md "Dropped teacher code".
type Server struct {
	router       *chi.Mux
	config       *config.Config
	adminHandler *handlers.AdminHandler
}

// NewServer builds the observability HTTP server. res and archive may be
// nil when the API server fronts components running in another process;
// in that case the corresponding endpoints respond 404 rather than
// panicking.
func NewServer(cfg *config.Config, redisClient *redis.Client, res *resolver.Resolver, archive *queue.ExceptionArchive) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		config:       cfg,
		adminHandler: handlers.NewAdminHandler(redisClient, res, archive),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))

		r.Get("/health", s.adminHandler.HealthCheck)
		r.Get("/resolver/stats", s.adminHandler.ResolverStats)
		r.Get("/exceptions", s.adminHandler.ListExceptions)
		r.Get("/claimants", s.adminHandler.ListClaimants)
	})

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
