package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
)

var errNotFound = fmt.Errorf("not found: %w", ErrMissingEntity)

// mockStore implements ScheduleStore and RunStore in memory. Records are
// stored by value so tests observe exactly what was written.
type mockStore struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]models.ScheduledTask
	repos     map[uuid.UUID]models.Repository
	runs      map[uuid.UUID]models.Run
	runOrder  []uuid.UUID
	snapshots []models.Snapshot
	nextRuns  map[uuid.UUID]*time.Time

	listErr           error
	createRunErr      error
	updateRunErr      error
	updateRunFailures int // fail this many UpdateRun calls, then succeed
	lastRunErr        error
	snapshotErr       error
	sweepErr          error
	sweepCutoff       time.Time
}

func newMockStore() *mockStore {
	return &mockStore{
		tasks:    make(map[uuid.UUID]models.ScheduledTask),
		repos:    make(map[uuid.UUID]models.Repository),
		runs:     make(map[uuid.UUID]models.Run),
		nextRuns: make(map[uuid.UUID]*time.Time),
	}
}

func (m *mockStore) addRepo(repo *models.Repository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repos[repo.ID] = *repo
}

func (m *mockStore) addTask(task *models.ScheduledTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = *task
}

func (m *mockStore) deleteTask(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
}

func (m *mockStore) ListEnabledTasks(_ context.Context) ([]*models.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.ScheduledTask
	for _, t := range m.tasks {
		if t.Enabled {
			t := t
			out = append(out, &t)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateTaskNextRun(_ context.Context, id uuid.UUID, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRuns[id] = next
	if t, ok := m.tasks[id]; ok {
		t.NextRun = next
		m.tasks[id] = t
	}
	return nil
}

func (m *mockStore) FailRunningRuns(_ context.Context, before time.Time, message string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepErr != nil {
		return 0, m.sweepErr
	}
	m.sweepCutoff = before
	var n int64
	for id, r := range m.runs {
		if r.Status == models.RunStatusRunning && r.StartTime.Before(before) {
			r.Fail(at, message)
			m.runs[id] = r
			n++
		}
	}
	return n, nil
}

func (m *mockStore) GetTask(_ context.Context, id uuid.UUID) (*models.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, errNotFound
	}
	return &t, nil
}

func (m *mockStore) GetRepository(_ context.Context, id uuid.UUID) (*models.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return nil, errNotFound
	}
	return &r, nil
}

func (m *mockStore) CreateRun(_ context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createRunErr != nil {
		return m.createRunErr
	}
	m.runs[run.ID] = *run
	m.runOrder = append(m.runOrder, run.ID)
	return nil
}

func (m *mockStore) UpdateRun(_ context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateRunErr != nil {
		return m.updateRunErr
	}
	if m.updateRunFailures > 0 {
		m.updateRunFailures--
		return errors.New("database is locked")
	}
	m.runs[run.ID] = *run
	return nil
}

func (m *mockStore) UpdateTaskLastRun(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastRunErr != nil {
		return m.lastRunErr
	}
	if t, ok := m.tasks[id]; ok {
		t.LastRun = &at
		m.tasks[id] = t
	}
	return nil
}

func (m *mockStore) CreateSnapshot(_ context.Context, snap *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshotErr != nil {
		return m.snapshotErr
	}
	m.snapshots = append(m.snapshots, *snap)
	return nil
}

func (m *mockStore) allRuns() []models.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Run, 0, len(m.runOrder))
	for _, id := range m.runOrder {
		out = append(out, m.runs[id])
	}
	return out
}

func (m *mockStore) allSnapshots() []models.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Snapshot(nil), m.snapshots...)
}

func (m *mockStore) nextRun(id uuid.UUID) (*time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := m.nextRuns[id]
	return next, ok
}

// mockExecutor implements Executor. Backup blocks on gate when set.
type mockExecutor struct {
	mu       sync.Mutex
	result   BackupResult
	panicMsg string
	gate     chan struct{}
	started  chan struct{}
	calls    []BackupRequest
	active   int
	maxSeen  int
}

func newMockExecutor(result BackupResult) *mockExecutor {
	return &mockExecutor{result: result, started: make(chan struct{}, 16)}
}

func (e *mockExecutor) Backup(ctx context.Context, _ ResticConfig, req BackupRequest) BackupResult {
	e.mu.Lock()
	e.calls = append(e.calls, req)
	e.active++
	if e.active > e.maxSeen {
		e.maxSeen = e.active
	}
	gate := e.gate
	panicMsg := e.panicMsg
	result := e.result
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	select {
	case e.started <- struct{}{}:
	default:
	}

	if panicMsg != "" {
		panic(panicMsg)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return BackupResult{Result: failed("restic backup aborted: " + ctx.Err().Error())}
		}
	}
	return result
}

func (e *mockExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *mockExecutor) Init(context.Context, ResticConfig) InitResult {
	return InitResult{Result: Result{OK: true}}
}

func (e *mockExecutor) Check(context.Context, ResticConfig) CheckResult {
	return CheckResult{Result: Result{OK: true}}
}

func (e *mockExecutor) Snapshots(context.Context, ResticConfig) SnapshotsResult {
	return SnapshotsResult{Result: Result{OK: true}}
}

func (e *mockExecutor) ListFiles(context.Context, ResticConfig, string, string) ListFilesResult {
	return ListFilesResult{Result: Result{OK: true}}
}

func (e *mockExecutor) Restore(context.Context, ResticConfig, string, RestoreOptions) RestoreResult {
	return RestoreResult{Result: Result{OK: true}}
}

func (e *mockExecutor) Forget(context.Context, ResticConfig, ForgetOptions) ForgetResult {
	return ForgetResult{Result: Result{OK: true}}
}

func (e *mockExecutor) Stats(context.Context, ResticConfig) StatsResult {
	return StatsResult{Result: Result{OK: true}}
}

// recordingMetrics implements Metrics for assertions.
type recordingMetrics struct {
	mu        sync.Mutex
	runs      map[models.RunStatus]int
	coalesced int
	armed     int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{runs: make(map[models.RunStatus]int)}
}

func (m *recordingMetrics) RecordRun(status models.RunStatus, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[status]++
}

func (m *recordingMetrics) RecordCoalesced() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coalesced++
}

func (m *recordingMetrics) SetArmedTasks(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armed = n
}

func (m *recordingMetrics) SetRunsInFlight(int) {}

func (m *recordingMetrics) coalescedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coalesced
}

func (m *recordingMetrics) runCount(status models.RunStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[status]
}

func testRepository() *models.Repository {
	return models.NewRepository("primary", models.RepositoryTypeLocal, "/srv/restic", "secret")
}

func testTask(repoID uuid.UUID) *models.ScheduledTask {
	task := models.NewScheduledTask(repoID, "nightly", "/data", models.ScheduleTypeCron)
	task.CronExpression = "0 2 * * *"
	task.Tags = []string{"nightly"}
	return task
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
