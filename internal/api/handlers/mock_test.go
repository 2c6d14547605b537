package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/db"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/MacJediWizard/resticron/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// mockService implements every handler service interface. Lookups miss
// with db.ErrNotFound; err, when set, is returned by every operation.
type mockService struct {
	err error

	repos     map[uuid.UUID]*models.Repository
	tasks     map[uuid.UUID]*models.ScheduledTask
	runs      map[uuid.UUID]*models.Run
	snapshots map[uuid.UUID]*models.Snapshot
	settings  map[string]string

	registered  *service.RegisterRepositoryInput
	createdTask *service.CreateTaskInput
	updatedTask *service.UpdateTaskInput
	ranTask     uuid.UUID
	adHoc       *service.AdHocBackupInput
	runQuery    *service.RunQuery
	restored    *service.RestoreInput
	filesPath   string
	forgotten   uuid.UUID
	pruned      bool
	retention   *service.RetentionInput
}

func newMockService() *mockService {
	return &mockService{
		repos:     make(map[uuid.UUID]*models.Repository),
		tasks:     make(map[uuid.UUID]*models.ScheduledTask),
		runs:      make(map[uuid.UUID]*models.Run),
		snapshots: make(map[uuid.UUID]*models.Snapshot),
		settings:  make(map[string]string),
	}
}

func lookup[T any](m map[uuid.UUID]*T, id uuid.UUID, what string) (*T, error) {
	v, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", what, id, db.ErrNotFound)
	}
	return v, nil
}

func (m *mockService) RegisterRepository(_ context.Context, in service.RegisterRepositoryInput) (*models.Repository, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.registered = &in
	repo := models.NewRepository(in.Name, in.Type, in.Location, in.Password)
	m.repos[repo.ID] = repo
	return repo, nil
}

func (m *mockService) GetRepository(_ context.Context, id uuid.UUID) (*models.Repository, error) {
	if m.err != nil {
		return nil, m.err
	}
	return lookup(m.repos, id, "repository")
}

func (m *mockService) ListRepositories(context.Context) ([]*models.Repository, error) {
	if m.err != nil {
		return nil, m.err
	}
	repos := make([]*models.Repository, 0, len(m.repos))
	for _, r := range m.repos {
		repos = append(repos, r)
	}
	return repos, nil
}

func (m *mockService) CheckRepository(ctx context.Context, id uuid.UUID) (*service.RepositoryCheck, error) {
	repo, err := m.GetRepository(ctx, id)
	if err != nil {
		return nil, err
	}
	return &service.RepositoryCheck{Repository: repo, OK: true, Message: "no errors were found"}, nil
}

func (m *mockService) TestConnection(ctx context.Context, id uuid.UUID) (*service.ConnectionResult, error) {
	if _, err := m.GetRepository(ctx, id); err != nil {
		return nil, err
	}
	return &service.ConnectionResult{OK: true, Message: "connection successful"}, nil
}

func (m *mockService) RepositoryStats(ctx context.Context, id uuid.UUID) (*backup.StatsResult, error) {
	if _, err := m.GetRepository(ctx, id); err != nil {
		return nil, err
	}
	return &backup.StatsResult{TotalSize: 2048, SnapshotsCount: 3}, nil
}

func (m *mockService) DeleteRepository(ctx context.Context, id uuid.UUID) error {
	if _, err := m.GetRepository(ctx, id); err != nil {
		return err
	}
	delete(m.repos, id)
	return nil
}

func (m *mockService) SyncSnapshots(ctx context.Context, repositoryID uuid.UUID) (int, error) {
	if _, err := m.GetRepository(ctx, repositoryID); err != nil {
		return 0, err
	}
	return len(m.snapshots), nil
}

func (m *mockService) ListSnapshots(ctx context.Context, repositoryID uuid.UUID) ([]*models.Snapshot, error) {
	if _, err := m.GetRepository(ctx, repositoryID); err != nil {
		return nil, err
	}
	snapshots := []*models.Snapshot{}
	for _, s := range m.snapshots {
		if s.RepositoryID == repositoryID {
			snapshots = append(snapshots, s)
		}
	}
	return snapshots, nil
}

func (m *mockService) ApplyRetention(ctx context.Context, repositoryID uuid.UUID, in service.RetentionInput) (*service.RetentionOutcome, error) {
	if _, err := m.GetRepository(ctx, repositoryID); err != nil {
		return nil, err
	}
	if in.Policy.IsEmpty() {
		return nil, &service.ValidationError{Field: "policy", Message: "at least one keep rule is required"}
	}
	m.retention = &in
	return &service.RetentionOutcome{
		RetentionResult: &backup.RetentionResult{Applied: true, SnapshotsRemoved: 2, SnapshotsKept: 1},
		SnapshotsSynced: 1,
	}, nil
}

func (m *mockService) CreateTask(_ context.Context, in service.CreateTaskInput) (*models.ScheduledTask, error) {
	if m.err != nil {
		return nil, m.err
	}
	if _, err := backup.NewTrigger(in.ScheduleType, in.CronExpression, in.IntervalSeconds); err != nil {
		return nil, err
	}
	m.createdTask = &in
	task := models.NewScheduledTask(in.RepositoryID, in.Name, in.SourcePath, in.ScheduleType)
	task.SetCron(in.CronExpression)
	m.tasks[task.ID] = task
	return task, nil
}

func (m *mockService) GetTask(_ context.Context, id uuid.UUID) (*models.ScheduledTask, error) {
	if m.err != nil {
		return nil, m.err
	}
	return lookup(m.tasks, id, "task")
}

func (m *mockService) ListTasks(_ context.Context, repositoryID *uuid.UUID) ([]*models.ScheduledTask, error) {
	if m.err != nil {
		return nil, m.err
	}
	tasks := []*models.ScheduledTask{}
	for _, t := range m.tasks {
		if repositoryID == nil || t.RepositoryID == *repositoryID {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (m *mockService) UpdateTask(ctx context.Context, id uuid.UUID, in service.UpdateTaskInput) (*models.ScheduledTask, error) {
	task, err := m.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	m.updatedTask = &in
	if in.Name != nil {
		task.Name = *in.Name
	}
	return task, nil
}

func (m *mockService) DeleteTask(ctx context.Context, id uuid.UUID) error {
	if _, err := m.GetTask(ctx, id); err != nil {
		return err
	}
	delete(m.tasks, id)
	return nil
}

func (m *mockService) RunTaskNow(ctx context.Context, id uuid.UUID) error {
	if _, err := m.GetTask(ctx, id); err != nil {
		return err
	}
	m.ranTask = id
	return nil
}

func (m *mockService) TriggerAdHocBackup(_ context.Context, in service.AdHocBackupInput) (*models.Run, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.adHoc = &in
	run := models.NewRun(in.RepositoryID, nil, in.SourcePath, testNow)
	m.runs[run.ID] = run
	return run, nil
}

func (m *mockService) ListRuns(_ context.Context, q service.RunQuery) ([]*models.Run, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.runQuery = &q
	runs := []*models.Run{}
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	return runs, nil
}

func (m *mockService) GetRun(_ context.Context, id uuid.UUID) (*models.Run, error) {
	if m.err != nil {
		return nil, m.err
	}
	return lookup(m.runs, id, "run")
}

func (m *mockService) ListSnapshotFiles(_ context.Context, snapshotID uuid.UUID, path string) ([]backup.SnapshotFile, error) {
	if _, err := lookup(m.snapshots, snapshotID, "snapshot"); err != nil {
		return nil, err
	}
	m.filesPath = path
	return []backup.SnapshotFile{{Name: "etc", Type: "dir", Path: "/etc"}}, nil
}

func (m *mockService) RestoreSnapshot(_ context.Context, snapshotID uuid.UUID, in service.RestoreInput) error {
	if m.err != nil {
		return m.err
	}
	if _, err := lookup(m.snapshots, snapshotID, "snapshot"); err != nil {
		return err
	}
	m.restored = &in
	return nil
}

func (m *mockService) ForgetSnapshot(_ context.Context, snapshotID uuid.UUID, prune bool) error {
	if _, err := lookup(m.snapshots, snapshotID, "snapshot"); err != nil {
		return err
	}
	m.forgotten = snapshotID
	m.pruned = prune
	delete(m.snapshots, snapshotID)
	return nil
}

func (m *mockService) GetSettings(context.Context) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.settings, nil
}

func (m *mockService) UpdateSettings(ctx context.Context, settings map[string]string) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(settings) == 0 {
		return nil, &service.ValidationError{Field: "settings", Message: "at least one setting is required"}
	}
	for k, v := range settings {
		m.settings[k] = v
	}
	return m.settings, nil
}

// setupTestRouter mounts every API handler under /api/v1.
func setupTestRouter(svc *mockService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	NewRepositoriesHandler(svc, zerolog.Nop()).RegisterRoutes(api)
	NewTasksHandler(svc, zerolog.Nop()).RegisterRoutes(api)
	NewBackupsHandler(svc, zerolog.Nop()).RegisterRoutes(api)
	NewSnapshotsHandler(svc, zerolog.Nop()).RegisterRoutes(api)
	NewSettingsHandler(svc, zerolog.Nop()).RegisterRoutes(api)
	return r
}

func doRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, w, &body)
	return body.Error
}
