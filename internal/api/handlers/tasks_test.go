package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addTask(svc *mockService, repoID uuid.UUID) *models.ScheduledTask {
	task := models.NewScheduledTask(repoID, "nightly", "/home", models.ScheduleTypeCron)
	task.SetCron("0 2 * * *")
	svc.tasks[task.ID] = task
	return task
}

func TestTasksCreate(t *testing.T) {
	repoID := uuid.New()

	t.Run("success", func(t *testing.T) {
		svc := newMockService()
		r := setupTestRouter(svc)

		w := doRequest(r, http.MethodPost, "/api/v1/tasks", map[string]any{
			"repository_id":   repoID,
			"name":            "nightly",
			"source_path":     "/home",
			"schedule_type":   "cron",
			"cron_expression": "0 2 * * *",
			"tags":            []string{"home"},
		})

		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		require.NotNil(t, svc.createdTask)
		assert.Equal(t, repoID, svc.createdTask.RepositoryID)
		assert.Equal(t, []string{"home"}, svc.createdTask.Tags)

		var task models.ScheduledTask
		decodeBody(t, w, &task)
		assert.Equal(t, "0 2 * * *", task.CronExpression)
	})

	t.Run("invalid schedule", func(t *testing.T) {
		svc := newMockService()
		r := setupTestRouter(svc)

		w := doRequest(r, http.MethodPost, "/api/v1/tasks", map[string]any{
			"repository_id":   repoID,
			"name":            "broken",
			"source_path":     "/home",
			"schedule_type":   "cron",
			"cron_expression": "not a cron",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, errorMessage(t, w), "invalid schedule")
		assert.Empty(t, svc.tasks)
	})

	t.Run("invalid repository id", func(t *testing.T) {
		r := setupTestRouter(newMockService())

		w := doRequest(r, http.MethodPost, "/api/v1/tasks", `{"repository_id":"nope"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestTasksList(t *testing.T) {
	svc := newMockService()
	repoA, repoB := uuid.New(), uuid.New()
	addTask(svc, repoA)
	addTask(svc, repoB)
	r := setupTestRouter(svc)

	var body struct {
		Tasks []*models.ScheduledTask `json:"tasks"`
	}

	w := doRequest(r, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &body)
	assert.Len(t, body.Tasks, 2)

	w = doRequest(r, http.MethodGet, "/api/v1/tasks?repository_id="+repoA.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &body)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, repoA, body.Tasks[0].RepositoryID)

	w = doRequest(r, http.MethodGet, "/api/v1/tasks?repository_id=bad", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid repository_id", errorMessage(t, w))
}

func TestTasksGetUpdateDelete(t *testing.T) {
	svc := newMockService()
	task := addTask(svc, uuid.New())
	r := setupTestRouter(svc)
	path := "/api/v1/tasks/" + task.ID.String()

	w := doRequest(r, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodPut, path, map[string]any{"name": "weekly"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, svc.updatedTask)
	require.NotNil(t, svc.updatedTask.Name)
	assert.Equal(t, "weekly", *svc.updatedTask.Name)
	assert.Nil(t, svc.updatedTask.CronExpression, "absent fields stay nil")

	w = doRequest(r, http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, svc.tasks)

	w = doRequest(r, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodPut, "/api/v1/tasks/bad", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid task ID", errorMessage(t, w))
}

func TestTasksRun(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		svc := newMockService()
		task := addTask(svc, uuid.New())
		r := setupTestRouter(svc)

		w := doRequest(r, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/run", nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, task.ID, svc.ranTask)
	})

	t.Run("already running", func(t *testing.T) {
		svc := newMockService()
		task := addTask(svc, uuid.New())
		svc.err = fmt.Errorf("run task %s: %w", task.ID, backup.ErrTaskRunning)
		r := setupTestRouter(svc)

		w := doRequest(r, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/run", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("shutting down", func(t *testing.T) {
		svc := newMockService()
		task := addTask(svc, uuid.New())
		svc.err = backup.ErrShuttingDown
		r := setupTestRouter(svc)

		w := doRequest(r, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/run", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
