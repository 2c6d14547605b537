package handlers

import (
	"context"
	"net/http"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SnapshotService defines the snapshot operations the handler needs.
type SnapshotService interface {
	ListSnapshotFiles(ctx context.Context, snapshotID uuid.UUID, path string) ([]backup.SnapshotFile, error)
	RestoreSnapshot(ctx context.Context, snapshotID uuid.UUID, in service.RestoreInput) error
	ForgetSnapshot(ctx context.Context, snapshotID uuid.UUID, prune bool) error
}

// SnapshotsHandler handles snapshot HTTP endpoints. Snapshots are addressed
// by their index ID, not the restic snapshot ID.
type SnapshotsHandler struct {
	svc    SnapshotService
	logger zerolog.Logger
}

// NewSnapshotsHandler creates a new SnapshotsHandler.
func NewSnapshotsHandler(svc SnapshotService, logger zerolog.Logger) *SnapshotsHandler {
	return &SnapshotsHandler{
		svc:    svc,
		logger: logger.With().Str("component", "snapshots_handler").Logger(),
	}
}

// RegisterRoutes registers snapshot routes on the given router group.
func (h *SnapshotsHandler) RegisterRoutes(r *gin.RouterGroup) {
	snapshots := r.Group("/snapshots")
	{
		snapshots.GET("/:id/files", h.ListFiles)
		snapshots.POST("/:id/restore", h.Restore)
		snapshots.DELETE("/:id", h.Forget)
	}
}

// ListFiles lists the entries of a snapshot.
// GET /api/v1/snapshots/:id/files
// Optional query param: path to list a subdirectory
func (h *SnapshotsHandler) ListFiles(c *gin.Context) {
	id, ok := parseID(c, "id", "snapshot")
	if !ok {
		return
	}

	files, err := h.svc.ListSnapshotFiles(c.Request.Context(), id, c.Query("path"))
	if err != nil {
		respondError(c, h.logger, err, "failed to list snapshot files")
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// Restore restores a snapshot to a target path on the server.
// POST /api/v1/snapshots/:id/restore
func (h *SnapshotsHandler) Restore(c *gin.Context) {
	id, ok := parseID(c, "id", "snapshot")
	if !ok {
		return
	}

	var req service.RestoreInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := h.svc.RestoreSnapshot(c.Request.Context(), id, req); err != nil {
		respondError(c, h.logger, err, "failed to restore snapshot")
		return
	}

	h.logger.Info().
		Str("snapshot_id", id.String()).
		Str("target", req.TargetPath).
		Msg("snapshot restored")

	c.JSON(http.StatusOK, gin.H{"message": "snapshot restored"})
}

// Forget removes a snapshot from the repository and the index.
// DELETE /api/v1/snapshots/:id
// Optional query param: prune=true to reclaim space
func (h *SnapshotsHandler) Forget(c *gin.Context) {
	id, ok := parseID(c, "id", "snapshot")
	if !ok {
		return
	}

	prune := c.Query("prune") == "true"
	if err := h.svc.ForgetSnapshot(c.Request.Context(), id, prune); err != nil {
		respondError(c, h.logger, err, "failed to forget snapshot")
		return
	}

	h.logger.Info().Str("snapshot_id", id.String()).Bool("prune", prune).Msg("snapshot forgotten")
	c.JSON(http.StatusOK, gin.H{"message": "snapshot forgotten"})
}
