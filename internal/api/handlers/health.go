package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MacJediWizard/resticron/internal/health"
	"github.com/MacJediWizard/resticron/internal/shutdown"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult represents the result of a health check.
type HealthCheckResult struct {
	Status   HealthStatus   `json:"status"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status  HealthStatus                  `json:"status"`
	Version string                        `json:"version,omitempty"`
	Checks  map[string]*HealthCheckResult `json:"checks,omitempty"`
}

// VersionInfo contains server build information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// DatabaseHealthChecker defines the interface for database health checking.
type DatabaseHealthChecker interface {
	Ping(ctx context.Context) error
	Health() map[string]any
}

// SchedulerStatus reports the state of the backup scheduler.
type SchedulerStatus interface {
	IsRunning() bool
	ArmedCount() int
	ShutdownStatus() shutdown.Status
}

// HostCollector collects host metrics.
type HostCollector interface {
	Collect(ctx context.Context) (*health.Metrics, error)
}

// HealthHandler handles health and version endpoints.
type HealthHandler struct {
	db        DatabaseHealthChecker
	scheduler SchedulerStatus
	collector HostCollector
	checker   *health.Checker
	version   VersionInfo
	logger    zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler. A nil collector skips the
// host check.
func NewHealthHandler(
	db DatabaseHealthChecker,
	scheduler SchedulerStatus,
	collector HostCollector,
	checker *health.Checker,
	version VersionInfo,
	logger zerolog.Logger,
) *HealthHandler {
	if checker == nil {
		checker = health.NewChecker(health.DefaultThresholds())
	}
	return &HealthHandler{
		db:        db,
		scheduler: scheduler,
		collector: collector,
		checker:   checker,
		version:   version,
		logger:    logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers health and version routes.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	health := r.Group("/health")
	{
		health.GET("", h.Overall)
		health.GET("/db", h.Database)
		health.GET("/host", h.Host)
	}
	r.GET("/version", h.Version)
}

// Overall returns the combined server health. The server is unhealthy when
// the database is unreachable, the scheduler is not running, or the host
// report is critical. Host warnings degrade the status without failing it.
// GET /health
func (h *HealthHandler) Overall(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]*HealthCheckResult{
		"database":  h.checkDatabase(ctx),
		"scheduler": h.checkScheduler(),
	}
	if h.collector != nil {
		checks["host"] = h.checkHost(ctx)
	}

	response := &HealthResponse{
		Status:  overallStatus(checks),
		Version: h.version.Version,
		Checks:  checks,
	}

	if response.Status == HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

// Database returns the database health status.
// GET /health/db
func (h *HealthHandler) Database(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	h.single(c, "database", h.checkDatabase(ctx))
}

// Host returns the evaluated host metrics.
// GET /health/host
func (h *HealthHandler) Host(c *gin.Context) {
	if h.collector == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "host metrics not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	h.single(c, "host", h.checkHost(ctx))
}

// Version returns the server build information.
// GET /version
func (h *HealthHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, h.version)
}

func (h *HealthHandler) single(c *gin.Context, name string, result *HealthCheckResult) {
	response := &HealthResponse{
		Status: result.Status,
		Checks: map[string]*HealthCheckResult{name: result},
	}
	if result.Status == HealthStatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

func overallStatus(checks map[string]*HealthCheckResult) HealthStatus {
	status := HealthStatusHealthy
	for _, check := range checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

func (h *HealthHandler) checkDatabase(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	result := &HealthCheckResult{Status: HealthStatusHealthy}

	if h.db == nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database not configured"
		result.Duration = time.Since(start).String()
		return result
	}

	err := h.db.Ping(ctx)
	result.Duration = time.Since(start).String()
	if err != nil {
		result.Status = HealthStatusUnhealthy
		result.Error = "database ping failed"
		h.logger.Warn().Err(err).Msg("database health check failed")
		return result
	}

	result.Details = h.db.Health()
	return result
}

func (h *HealthHandler) checkScheduler() *HealthCheckResult {
	if h.scheduler == nil {
		return &HealthCheckResult{Status: HealthStatusUnhealthy, Error: "scheduler not configured"}
	}

	status := h.scheduler.ShutdownStatus()
	result := &HealthCheckResult{
		Status: HealthStatusHealthy,
		Details: map[string]any{
			"running":            h.scheduler.IsRunning(),
			"armed_tasks":        h.scheduler.ArmedCount(),
			"runs_in_flight":     status.RunningBackups,
			"accepting_new_jobs": status.AcceptingNewJobs,
			"state":              status.State,
		},
	}

	switch {
	case !h.scheduler.IsRunning():
		result.Status = HealthStatusUnhealthy
		result.Error = "scheduler not running"
	case !status.AcceptingNewJobs:
		result.Status = HealthStatusUnhealthy
		result.Error = "scheduler is shutting down"
	}
	return result
}

func (h *HealthHandler) checkHost(ctx context.Context) *HealthCheckResult {
	start := time.Now()
	metrics, err := h.collector.Collect(ctx)
	result := &HealthCheckResult{Duration: time.Since(start).String()}
	if err != nil {
		h.logger.Warn().Err(err).Msg("host metrics collection failed")
		result.Status = HealthStatusDegraded
		result.Error = "host metrics unavailable"
		return result
	}

	report := h.checker.Evaluate(metrics)
	result.Details = map[string]any{
		"metrics": metrics,
		"report":  report,
	}

	switch report.Status {
	case health.StatusCritical:
		result.Status = HealthStatusUnhealthy
		result.Error = report.Message
	case health.StatusWarning:
		result.Status = HealthStatusDegraded
	default:
		result.Status = HealthStatusHealthy
	}
	return result
}
