// Package api provides the HTTP API for the resticron server.
package api

import (
	"time"

	"github.com/MacJediWizard/resticron/internal/api/handlers"
	"github.com/MacJediWizard/resticron/internal/api/middleware"
	"github.com/MacJediWizard/resticron/internal/health"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Service is the set of operations the API exposes.
type Service interface {
	handlers.RepositoryService
	handlers.TaskService
	handlers.BackupService
	handlers.SnapshotService
	handlers.SettingsService
}

// Config holds configuration for the API router.
type Config struct {
	// RateLimitPerMinute is the number of API requests allowed per client IP
	// each minute. Zero disables rate limiting.
	RateLimitPerMinute int64
	Version            handlers.VersionInfo
}

// Dependencies are the components the router serves.
type Dependencies struct {
	Service   Service
	Database  handlers.DatabaseHealthChecker
	Scheduler handlers.SchedulerStatus
	// Host is optional. Without it /health skips the host check.
	Host     handlers.HostCollector
	Checker  *health.Checker
	Gatherer prometheus.Gatherer
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(cfg Config, deps Dependencies, logger zerolog.Logger) (*Router, error) {
	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.SecurityHeaders())

	if cfg.RateLimitPerMinute > 0 {
		rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, logger, "/health", "/metrics")
		if err != nil {
			return nil, err
		}
		r.Engine.Use(rateLimiter)
	}

	healthHandler := handlers.NewHealthHandler(deps.Database, deps.Scheduler, deps.Host, deps.Checker, cfg.Version, logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	if deps.Gatherer != nil {
		handlers.NewMetricsHandler(deps.Gatherer, logger).RegisterPublicRoutes(r.Engine)
	}

	apiV1 := r.Engine.Group("/api/v1")
	apiV1.Use(middleware.BodyLimit(maxBodyBytes))

	handlers.NewRepositoriesHandler(deps.Service, logger).RegisterRoutes(apiV1)
	handlers.NewTasksHandler(deps.Service, logger).RegisterRoutes(apiV1)
	handlers.NewBackupsHandler(deps.Service, logger).RegisterRoutes(apiV1)
	handlers.NewSnapshotsHandler(deps.Service, logger).RegisterRoutes(apiV1)
	handlers.NewSettingsHandler(deps.Service, logger).RegisterRoutes(apiV1)

	r.logger.Info().Msg("API router initialized")
	return r, nil
}
