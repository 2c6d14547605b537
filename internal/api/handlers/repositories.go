package handlers

import (
	"context"
	"net/http"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/MacJediWizard/resticron/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RepositoryService defines the repository operations the handler needs.
type RepositoryService interface {
	RegisterRepository(ctx context.Context, in service.RegisterRepositoryInput) (*models.Repository, error)
	GetRepository(ctx context.Context, id uuid.UUID) (*models.Repository, error)
	ListRepositories(ctx context.Context) ([]*models.Repository, error)
	CheckRepository(ctx context.Context, id uuid.UUID) (*service.RepositoryCheck, error)
	TestConnection(ctx context.Context, id uuid.UUID) (*service.ConnectionResult, error)
	RepositoryStats(ctx context.Context, id uuid.UUID) (*backup.StatsResult, error)
	DeleteRepository(ctx context.Context, id uuid.UUID) error
	SyncSnapshots(ctx context.Context, repositoryID uuid.UUID) (int, error)
	ListSnapshots(ctx context.Context, repositoryID uuid.UUID) ([]*models.Snapshot, error)
	ApplyRetention(ctx context.Context, repositoryID uuid.UUID, in service.RetentionInput) (*service.RetentionOutcome, error)
}

// RepositoriesHandler handles repository-related HTTP endpoints.
type RepositoriesHandler struct {
	svc    RepositoryService
	logger zerolog.Logger
}

// NewRepositoriesHandler creates a new RepositoriesHandler.
func NewRepositoriesHandler(svc RepositoryService, logger zerolog.Logger) *RepositoriesHandler {
	return &RepositoriesHandler{
		svc:    svc,
		logger: logger.With().Str("component", "repositories_handler").Logger(),
	}
}

// RegisterRoutes registers repository routes on the given router group.
func (h *RepositoriesHandler) RegisterRoutes(r *gin.RouterGroup) {
	repos := r.Group("/repositories")
	{
		repos.GET("", h.List)
		repos.POST("", h.Create)
		repos.GET("/:id", h.Get)
		repos.DELETE("/:id", h.Delete)
		repos.POST("/:id/check", h.Check)
		repos.POST("/:id/test", h.Test)
		repos.GET("/:id/stats", h.Stats)
		repos.GET("/:id/snapshots", h.ListSnapshots)
		repos.POST("/:id/snapshots/sync", h.SyncSnapshots)
		repos.POST("/:id/retention", h.ApplyRetention)
	}
}

// List returns every registered repository.
// GET /api/v1/repositories
func (h *RepositoriesHandler) List(c *gin.Context) {
	repos, err := h.svc.ListRepositories(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "failed to list repositories")
		return
	}
	c.JSON(http.StatusOK, gin.H{"repositories": repos})
}

// Create initializes and registers a repository.
// POST /api/v1/repositories
func (h *RepositoriesHandler) Create(c *gin.Context) {
	var req service.RegisterRepositoryInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	repo, err := h.svc.RegisterRepository(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err, "failed to register repository")
		return
	}

	h.logger.Info().
		Str("repository_id", repo.ID.String()).
		Str("name", repo.Name).
		Str("type", string(repo.Type)).
		Msg("repository registered")

	c.JSON(http.StatusCreated, repo)
}

// Get returns a repository by ID.
// GET /api/v1/repositories/:id
func (h *RepositoriesHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id", "repository")
	if !ok {
		return
	}

	repo, err := h.svc.GetRepository(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "failed to get repository")
		return
	}
	c.JSON(http.StatusOK, repo)
}

// Delete unregisters a repository along with its tasks, runs and snapshots.
// The restic repository itself is left untouched.
// DELETE /api/v1/repositories/:id
func (h *RepositoriesHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id", "repository")
	if !ok {
		return
	}

	if err := h.svc.DeleteRepository(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err, "failed to delete repository")
		return
	}

	h.logger.Info().Str("repository_id", id.String()).Msg("repository deleted")
	c.JSON(http.StatusOK, gin.H{"message": "repository deleted"})
}

// Check runs restic check against a repository.
// POST /api/v1/repositories/:id/check
func (h *RepositoriesHandler) Check(c *gin.Context) {
	id, ok := parseID(c, "id", "repository")
	if !ok {
		return
	}

	result, err := h.svc.CheckRepository(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "failed to check repository")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Test probes whether the repository can be reached and opened.
// POST /api/v1/repositories/:id/test
func (h *RepositoriesHandler) Test(c *gin.Context) {
	id, ok := parseID(c, "id", "repository")
	if !ok {
		return
	}

	result, err := h.svc.TestConnection(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "failed to test repository")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Stats returns restic's size statistics for a repository.
// GET /api/v1/repositories/:id/stats
func (h *RepositoriesHandler) Stats(c *gin.Context) {
	id, ok := parseID(c, "id", "repository")
	if !ok {
		return
	}

	stats, err := h.svc.RepositoryStats(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "failed to get repository stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListSnapshots returns the stored snapshot index of a repository.
// GET /api/v1/repositories/:id/snapshots
func (h *RepositoriesHandler) ListSnapshots(c *gin.Context) {
	id, ok := parseID(c, "id", "repository")
	if !ok {
		return
	}

	snapshots, err := h.svc.ListSnapshots(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "failed to list snapshots")
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}

// SyncSnapshots refreshes the snapshot index from restic.
// POST /api/v1/repositories/:id/snapshots/sync
func (h *RepositoriesHandler) SyncSnapshots(c *gin.Context) {
	id, ok := parseID(c, "id", "repository")
	if !ok {
		return
	}

	count, err := h.svc.SyncSnapshots(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "failed to sync snapshots")
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots_synced": count})
}

// ApplyRetention forgets snapshots outside a retention policy.
// POST /api/v1/repositories/:id/retention
func (h *RepositoriesHandler) ApplyRetention(c *gin.Context) {
	id, ok := parseID(c, "id", "repository")
	if !ok {
		return
	}

	var req service.RetentionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	outcome, err := h.svc.ApplyRetention(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.logger, err, "failed to apply retention")
		return
	}
	c.JSON(http.StatusOK, outcome)
}
