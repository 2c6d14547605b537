package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/MacJediWizard/resticron/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BackupService defines the run operations the handler needs.
type BackupService interface {
	TriggerAdHocBackup(ctx context.Context, in service.AdHocBackupInput) (*models.Run, error)
	ListRuns(ctx context.Context, q service.RunQuery) ([]*models.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
}

// BackupsHandler handles ad hoc backups and run history.
type BackupsHandler struct {
	svc    BackupService
	logger zerolog.Logger
}

// NewBackupsHandler creates a new BackupsHandler.
func NewBackupsHandler(svc BackupService, logger zerolog.Logger) *BackupsHandler {
	return &BackupsHandler{
		svc:    svc,
		logger: logger.With().Str("component", "backups_handler").Logger(),
	}
}

// RegisterRoutes registers backup and run routes on the given router group.
func (h *BackupsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/backups", h.Trigger)

	runs := r.Group("/runs")
	{
		runs.GET("", h.ListRuns)
		runs.GET("/:id", h.GetRun)
	}
}

// Trigger starts an ad hoc backup. The response carries the running record;
// clients poll GET /runs/:id for the outcome.
// POST /api/v1/backups
func (h *BackupsHandler) Trigger(c *gin.Context) {
	var req service.AdHocBackupInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	run, err := h.svc.TriggerAdHocBackup(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err, "failed to start backup")
		return
	}

	h.logger.Info().
		Str("run_id", run.ID.String()).
		Str("repository_id", run.RepositoryID.String()).
		Msg("ad hoc backup started")

	c.JSON(http.StatusAccepted, run)
}

// ListRuns returns runs newest first.
// GET /api/v1/runs
// Optional query params: repository_id, task_id, status, limit
func (h *BackupsHandler) ListRuns(c *gin.Context) {
	var q service.RunQuery
	var ok bool

	if q.RepositoryID, ok = parseOptionalID(c, "repository_id"); !ok {
		return
	}
	if q.TaskID, ok = parseOptionalID(c, "task_id"); !ok {
		return
	}
	q.Status = models.RunStatus(c.Query("status"))

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		q.Limit = limit
	}

	runs, err := h.svc.ListRuns(c.Request.Context(), q)
	if err != nil {
		respondError(c, h.logger, err, "failed to list runs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetRun returns a run by ID.
// GET /api/v1/runs/:id
func (h *BackupsHandler) GetRun(c *gin.Context) {
	id, ok := parseID(c, "id", "run")
	if !ok {
		return
	}

	run, err := h.svc.GetRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "failed to get run")
		return
	}
	c.JSON(http.StatusOK, run)
}
