package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/db"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type memStore struct {
	mu        sync.Mutex
	repos     map[uuid.UUID]*models.Repository
	tasks     map[uuid.UUID]*models.ScheduledTask
	runs      []*models.Run
	snapshots map[uuid.UUID]*models.Snapshot
	settings  map[string]string

	writeErr      error
	deleteRepoErr error
	lastFilter    db.RunFilter
}

func newMemStore() *memStore {
	return &memStore{
		repos:     make(map[uuid.UUID]*models.Repository),
		tasks:     make(map[uuid.UUID]*models.ScheduledTask),
		snapshots: make(map[uuid.UUID]*models.Snapshot),
		settings:  make(map[string]string),
	}
}

func notFound(kind string, id any) error {
	return fmt.Errorf("%s %v: %w", kind, id, db.ErrNotFound)
}

func (m *memStore) CreateRepository(_ context.Context, repo *models.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	for _, r := range m.repos {
		if r.Name == repo.Name {
			return db.ErrDuplicateName
		}
	}
	cp := *repo
	m.repos[repo.ID] = &cp
	return nil
}

func (m *memStore) GetRepository(_ context.Context, id uuid.UUID) (*models.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[id]
	if !ok {
		return nil, notFound("repository", id)
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetRepositoryByName(_ context.Context, name string) (*models.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repos {
		if r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, notFound("repository", name)
}

func (m *memStore) ListRepositories(context.Context) ([]*models.Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Repository, 0, len(m.repos))
	for _, r := range m.repos {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memStore) UpdateRepository(_ context.Context, repo *models.Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.repos[repo.ID]; !ok {
		return notFound("repository", repo.ID)
	}
	cp := *repo
	m.repos[repo.ID] = &cp
	return nil
}

func (m *memStore) DeleteRepository(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteRepoErr != nil {
		return m.deleteRepoErr
	}
	if _, ok := m.repos[id]; !ok {
		return notFound("repository", id)
	}
	delete(m.repos, id)
	for tid, t := range m.tasks {
		if t.RepositoryID == id {
			delete(m.tasks, tid)
		}
	}
	for sid, s := range m.snapshots {
		if s.RepositoryID == id {
			delete(m.snapshots, sid)
		}
	}
	kept := m.runs[:0]
	for _, r := range m.runs {
		if r.RepositoryID != id {
			kept = append(kept, r)
		}
	}
	m.runs = kept
	return nil
}

func (m *memStore) CreateTask(_ context.Context, task *models.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memStore) GetTask(_ context.Context, id uuid.UUID) (*models.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, notFound("task", id)
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) ListTasks(context.Context) ([]*models.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) ListTasksByRepository(_ context.Context, repositoryID uuid.UUID) ([]*models.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ScheduledTask
	for _, t := range m.tasks {
		if t.RepositoryID == repositoryID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) UpdateTask(_ context.Context, task *models.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.tasks[task.ID]; !ok {
		return notFound("task", task.ID)
	}
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memStore) DeleteTask(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.tasks[id]; !ok {
		return notFound("task", id)
	}
	delete(m.tasks, id)
	return nil
}

func (m *memStore) GetRun(_ context.Context, id uuid.UUID) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, notFound("run", id)
}

func (m *memStore) ListRuns(_ context.Context, filter db.RunFilter) ([]*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	var out []*models.Run
	for _, r := range m.runs {
		if filter.RepositoryID != nil && r.RepositoryID != *filter.RepositoryID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) GetSnapshot(_ context.Context, id uuid.UUID) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	if !ok {
		return nil, notFound("snapshot", id)
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListSnapshots(_ context.Context, repositoryID uuid.UUID) ([]*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Snapshot{}
	for _, s := range m.snapshots {
		if s.RepositoryID == repositoryID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out, nil
}

func (m *memStore) DeleteSnapshot(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[id]; !ok {
		return notFound("snapshot", id)
	}
	delete(m.snapshots, id)
	return nil
}

func (m *memStore) ReplaceSnapshots(_ context.Context, repositoryID uuid.UUID, snaps []*models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	for id, s := range m.snapshots {
		if s.RepositoryID == repositoryID {
			delete(m.snapshots, id)
		}
	}
	for _, s := range snaps {
		cp := *s
		cp.RepositoryID = repositoryID
		m.snapshots[s.ID] = &cp
	}
	return nil
}

func (m *memStore) GetSettings(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) SetSettings(_ context.Context, settings map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	for k, v := range settings {
		m.settings[k] = v
	}
	return nil
}

func (m *memStore) addRepo(repo *models.Repository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *repo
	m.repos[repo.ID] = &cp
}

func (m *memStore) addTask(task *models.ScheduledTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *task
	m.tasks[task.ID] = &cp
}

func (m *memStore) addSnapshot(snap *models.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.snapshots[snap.ID] = &cp
}

func (m *memStore) snapshotCount(repositoryID uuid.UUID) int {
	snaps, _ := m.ListSnapshots(context.Background(), repositoryID)
	return len(snaps)
}

// fakeScheduler records arm and unarm calls.
type fakeScheduler struct {
	mu       sync.Mutex
	armed    map[uuid.UUID]*models.ScheduledTask
	arms     int
	unarms   []uuid.UUID
	nowErr   error
	ranNow   []uuid.UUID
	adHocRun *models.Run
	adHocErr error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: make(map[uuid.UUID]*models.ScheduledTask)}
}

func (f *fakeScheduler) Arm(_ context.Context, task *models.ScheduledTask) *time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arms++
	if !task.Enabled {
		delete(f.armed, task.ID)
		task.NextRun = nil
		return nil
	}
	if _, err := backup.TriggerForTask(task); err != nil {
		delete(f.armed, task.ID)
		return nil
	}
	next := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	task.NextRun = &next
	cp := *task
	f.armed[task.ID] = &cp
	return &next
}

func (f *fakeScheduler) Unarm(taskID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, taskID)
	f.unarms = append(f.unarms, taskID)
}

func (f *fakeScheduler) RunTaskNow(taskID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nowErr != nil {
		return f.nowErr
	}
	f.ranNow = append(f.ranNow, taskID)
	return nil
}

func (f *fakeScheduler) TriggerAdHoc(_ context.Context, repositoryID uuid.UUID, sourcePath string, _ []string) (*models.Run, error) {
	if f.adHocErr != nil {
		return nil, f.adHocErr
	}
	if f.adHocRun != nil {
		return f.adHocRun, nil
	}
	return models.NewRun(repositoryID, nil, sourcePath, time.Now().UTC()), nil
}

func (f *fakeScheduler) armCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.arms
}

func (f *fakeScheduler) isArmed(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.armed[id]
	return ok
}

// fakeExecutor returns canned results and records the calls it receives.
type fakeExecutor struct {
	mu        sync.Mutex
	calls     []string
	init      backup.InitResult
	check     backup.CheckResult
	snapshots backup.SnapshotsResult
	files     backup.ListFilesResult
	restore   backup.RestoreResult
	forget    backup.ForgetResult
	stats     backup.StatsResult

	lastForget  backup.ForgetOptions
	lastRestore backup.RestoreOptions
}

func okResult() backup.Result {
	return backup.Result{OK: true, Message: "ok"}
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		init:      backup.InitResult{Result: okResult()},
		check:     backup.CheckResult{Result: okResult()},
		snapshots: backup.SnapshotsResult{Result: okResult()},
		files:     backup.ListFilesResult{Result: okResult()},
		restore:   backup.RestoreResult{Result: okResult()},
		forget:    backup.ForgetResult{Result: okResult()},
		stats:     backup.StatsResult{Result: okResult()},
	}
}

func (f *fakeExecutor) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *fakeExecutor) called(op string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == op {
			return true
		}
	}
	return false
}

func (f *fakeExecutor) Init(context.Context, backup.ResticConfig) backup.InitResult {
	f.record("init")
	return f.init
}

func (f *fakeExecutor) Check(context.Context, backup.ResticConfig) backup.CheckResult {
	f.record("check")
	return f.check
}

func (f *fakeExecutor) Backup(context.Context, backup.ResticConfig, backup.BackupRequest) backup.BackupResult {
	f.record("backup")
	return backup.BackupResult{Result: okResult()}
}

func (f *fakeExecutor) Snapshots(context.Context, backup.ResticConfig) backup.SnapshotsResult {
	f.record("snapshots")
	return f.snapshots
}

func (f *fakeExecutor) ListFiles(context.Context, backup.ResticConfig, string, string) backup.ListFilesResult {
	f.record("ls")
	return f.files
}

func (f *fakeExecutor) Restore(_ context.Context, _ backup.ResticConfig, _ string, opts backup.RestoreOptions) backup.RestoreResult {
	f.record("restore")
	f.mu.Lock()
	f.lastRestore = opts
	f.mu.Unlock()
	return f.restore
}

func (f *fakeExecutor) Forget(_ context.Context, _ backup.ResticConfig, opts backup.ForgetOptions) backup.ForgetResult {
	f.record("forget")
	f.mu.Lock()
	f.lastForget = opts
	f.mu.Unlock()
	return f.forget
}

func (f *fakeExecutor) Stats(context.Context, backup.ResticConfig) backup.StatsResult {
	f.record("stats")
	return f.stats
}

var errWrite = errors.New("disk I/O error")

type testEnv struct {
	svc   *Service
	store *memStore
	sched *fakeScheduler
	exec  *fakeExecutor
}

func newTestEnv() *testEnv {
	store := newMemStore()
	sched := newFakeScheduler()
	exec := newFakeExecutor()
	svc := New(store, sched, exec, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return &testEnv{svc: svc, store: store, sched: sched, exec: exec}
}

func (e *testEnv) localRepo(path string) *models.Repository {
	repo := models.NewRepository("local-"+uuid.NewString()[:8], models.RepositoryTypeLocal, path, "pw")
	e.store.addRepo(repo)
	return repo
}
