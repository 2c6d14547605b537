package handlers

import (
	"context"
	"net/http"

	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/MacJediWizard/resticron/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TaskService defines the scheduled task operations the handler needs.
type TaskService interface {
	CreateTask(ctx context.Context, in service.CreateTaskInput) (*models.ScheduledTask, error)
	GetTask(ctx context.Context, id uuid.UUID) (*models.ScheduledTask, error)
	ListTasks(ctx context.Context, repositoryID *uuid.UUID) ([]*models.ScheduledTask, error)
	UpdateTask(ctx context.Context, id uuid.UUID, in service.UpdateTaskInput) (*models.ScheduledTask, error)
	DeleteTask(ctx context.Context, id uuid.UUID) error
	RunTaskNow(ctx context.Context, id uuid.UUID) error
}

// TasksHandler handles scheduled task HTTP endpoints.
type TasksHandler struct {
	svc    TaskService
	logger zerolog.Logger
}

// NewTasksHandler creates a new TasksHandler.
func NewTasksHandler(svc TaskService, logger zerolog.Logger) *TasksHandler {
	return &TasksHandler{
		svc:    svc,
		logger: logger.With().Str("component", "tasks_handler").Logger(),
	}
}

// RegisterRoutes registers task routes on the given router group.
func (h *TasksHandler) RegisterRoutes(r *gin.RouterGroup) {
	tasks := r.Group("/tasks")
	{
		tasks.GET("", h.List)
		tasks.POST("", h.Create)
		tasks.GET("/:id", h.Get)
		tasks.PUT("/:id", h.Update)
		tasks.DELETE("/:id", h.Delete)
		tasks.POST("/:id/run", h.Run)
	}
}

// List returns scheduled tasks.
// GET /api/v1/tasks
// Optional query param: repository_id to filter by repository
func (h *TasksHandler) List(c *gin.Context) {
	repoID, ok := parseOptionalID(c, "repository_id")
	if !ok {
		return
	}

	tasks, err := h.svc.ListTasks(c.Request.Context(), repoID)
	if err != nil {
		respondError(c, h.logger, err, "failed to list tasks")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// Create stores a task and arms its trigger.
// POST /api/v1/tasks
func (h *TasksHandler) Create(c *gin.Context) {
	var req service.CreateTaskInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	task, err := h.svc.CreateTask(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err, "failed to create task")
		return
	}

	h.logger.Info().
		Str("task_id", task.ID.String()).
		Str("name", task.Name).
		Str("schedule", task.ScheduleParam()).
		Msg("task created")

	c.JSON(http.StatusCreated, task)
}

// Get returns a task by ID.
// GET /api/v1/tasks/:id
func (h *TasksHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id", "task")
	if !ok {
		return
	}

	task, err := h.svc.GetTask(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err, "failed to get task")
		return
	}
	c.JSON(http.StatusOK, task)
}

// Update changes a task and re-arms it.
// PUT /api/v1/tasks/:id
func (h *TasksHandler) Update(c *gin.Context) {
	id, ok := parseID(c, "id", "task")
	if !ok {
		return
	}

	var req service.UpdateTaskInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	task, err := h.svc.UpdateTask(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.logger, err, "failed to update task")
		return
	}

	h.logger.Info().Str("task_id", id.String()).Msg("task updated")
	c.JSON(http.StatusOK, task)
}

// Delete removes a task and disarms it. An in-flight run is allowed to finish.
// DELETE /api/v1/tasks/:id
func (h *TasksHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id", "task")
	if !ok {
		return
	}

	if err := h.svc.DeleteTask(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err, "failed to delete task")
		return
	}

	h.logger.Info().Str("task_id", id.String()).Msg("task deleted")
	c.JSON(http.StatusOK, gin.H{"message": "task deleted"})
}

// Run starts a task immediately without changing its schedule.
// POST /api/v1/tasks/:id/run
func (h *TasksHandler) Run(c *gin.Context) {
	id, ok := parseID(c, "id", "task")
	if !ok {
		return
	}

	if err := h.svc.RunTaskNow(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err, "failed to run task")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "task run started"})
}
