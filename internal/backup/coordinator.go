package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MacJediWizard/resticron/internal/backup/backends"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunStore defines the persistence the run coordinator needs.
type RunStore interface {
	// GetTask returns a scheduled task by ID.
	GetTask(ctx context.Context, id uuid.UUID) (*models.ScheduledTask, error)

	// GetRepository returns a repository by ID.
	GetRepository(ctx context.Context, id uuid.UUID) (*models.Repository, error)

	// CreateRun inserts a new run record.
	CreateRun(ctx context.Context, run *models.Run) error

	// UpdateRun updates an existing run record.
	UpdateRun(ctx context.Context, run *models.Run) error

	// UpdateTaskLastRun sets a task's last-run timestamp.
	UpdateTaskLastRun(ctx context.Context, id uuid.UUID, at time.Time) error

	// CreateSnapshot inserts a snapshot record.
	CreateSnapshot(ctx context.Context, snapshot *models.Snapshot) error
}

// Metrics receives scheduler and run observations.
type Metrics interface {
	RecordRun(status models.RunStatus, duration time.Duration)
	RecordCoalesced()
	SetArmedTasks(n int)
	SetRunsInFlight(n int)
}

// RunNotifier is told about run lifecycle transitions.
type RunNotifier interface {
	RunStarted(ctx context.Context, run *models.Run)
	RunFinished(ctx context.Context, run *models.Run)
}

type nopMetrics struct{}

func (nopMetrics) RecordRun(models.RunStatus, time.Duration) {}
func (nopMetrics) RecordCoalesced()                          {}
func (nopMetrics) SetArmedTasks(int)                         {}
func (nopMetrics) SetRunsInFlight(int)                       {}

type nopNotifier struct{}

func (nopNotifier) RunStarted(context.Context, *models.Run)  {}
func (nopNotifier) RunFinished(context.Context, *models.Run) {}

// writeTimeout bounds store writes that must land even after the run
// context was cancelled.
const writeTimeout = 30 * time.Second

// Coordinator executes one backup run end to end and guarantees the run
// record reaches a terminal state unless the process dies.
type Coordinator struct {
	store    RunStore
	executor Executor
	metrics  Metrics
	notifier RunNotifier
	logger   zerolog.Logger
	now      func() time.Time
}

// NewCoordinator creates a run coordinator.
func NewCoordinator(store RunStore, executor Executor, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		executor: executor,
		metrics:  nopMetrics{},
		notifier: nopNotifier{},
		logger:   logger.With().Str("component", "coordinator").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics sets the metrics sink. It must be called before any run starts.
func (c *Coordinator) SetMetrics(m Metrics) {
	if m != nil {
		c.metrics = m
	}
}

// SetNotifier sets the run lifecycle notifier. It must be called before any run starts.
func (c *Coordinator) SetNotifier(n RunNotifier) {
	if n != nil {
		c.notifier = n
	}
}

// RunTask executes a scheduled task. A task or repository that no longer
// exists aborts the run without creating a record.
func (c *Coordinator) RunTask(ctx context.Context, taskID uuid.UUID) (*models.Run, error) {
	logger := c.logger.With().Str("task_id", taskID.String()).Logger()

	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ErrMissingEntity) {
			logger.Warn().Msg("task no longer exists, skipping run")
			return nil, fmt.Errorf("load task: %w", ErrTaskMissing)
		}
		logger.Error().Err(err).Msg("failed to load task")
		return nil, fmt.Errorf("load task: %w", err)
	}

	repo, err := c.store.GetRepository(ctx, task.RepositoryID)
	if err != nil {
		if errors.Is(err, ErrMissingEntity) {
			logger.Warn().Str("repository_id", task.RepositoryID.String()).Msg("repository no longer exists, skipping run")
		} else {
			logger.Error().Err(err).Msg("failed to load repository")
		}
		return nil, fmt.Errorf("load repository: %w", err)
	}

	now := c.now()
	run := models.NewRun(repo.ID, &task.ID, task.SourcePath, now)
	if err := c.store.CreateRun(ctx, run); err != nil {
		logger.Error().Err(err).Msg("failed to create run record")
		return nil, fmt.Errorf("%w: create run: %v", ErrPersistenceFailure, err)
	}

	if err := c.store.UpdateTaskLastRun(ctx, task.ID, now); err != nil {
		c.failRun(ctx, run, fmt.Sprintf("update task last run: %v", err), logger)
		c.finish(ctx, run)
		return run, fmt.Errorf("%w: update task last run: %v", ErrPersistenceFailure, err)
	}

	c.Execute(ctx, repo, run, task.Tags)
	return run, nil
}

// BeginAdHoc validates an on-demand backup request and creates its running
// record. The caller hands the returned run to Execute, usually on another
// goroutine.
func (c *Coordinator) BeginAdHoc(ctx context.Context, repositoryID uuid.UUID, sourcePath string) (*models.Run, *models.Repository, error) {
	if sourcePath == "" {
		return nil, nil, errors.New("source path is required")
	}

	repo, err := c.store.GetRepository(ctx, repositoryID)
	if err != nil {
		return nil, nil, fmt.Errorf("load repository: %w", err)
	}

	run := models.NewRun(repo.ID, nil, sourcePath, c.now())
	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("%w: create run: %v", ErrPersistenceFailure, err)
	}

	c.logger.Info().
		Str("run_id", run.ID.String()).
		Str("repository_id", repo.ID.String()).
		Str("source_path", sourcePath).
		Msg("ad hoc backup requested")

	return run, repo, nil
}

// Execute performs the backup for a running record and persists the
// outcome. It never panics and never returns with the run still running
// unless the failure write itself is rejected.
func (c *Coordinator) Execute(ctx context.Context, repo *models.Repository, run *models.Run, tags []string) {
	logger := c.logger.With().
		Str("run_id", run.ID.String()).
		Str("repository_id", repo.ID.String()).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("panic during backup run")
			c.failRun(ctx, run, fmt.Sprintf("internal error: %v", r), logger)
		}
		c.finish(ctx, run)
	}()

	c.notifier.RunStarted(ctx, run)

	cfg, err := backends.ConfigFor(repo)
	if err != nil {
		c.failRun(ctx, run, err.Error(), logger)
		return
	}

	res := c.executor.Backup(ctx, cfg, BackupRequest{
		SourcePath: run.SourcePath,
		Tags:       tags,
	})
	end := c.now()

	if !res.OK {
		logger.Warn().Str("message", res.Message).Msg("backup failed")
		c.failRun(ctx, run, res.Message, logger)
		return
	}

	run.Complete(end, res.SnapshotID, res.FilesNew, res.FilesChanged, res.BytesAdded, res.Message)
	writeCtx, cancel := c.writeContext(ctx)
	defer cancel()

	if err := c.store.UpdateRun(writeCtx, run); err != nil {
		c.failRun(ctx, run, fmt.Sprintf("record completed run: %v", err), logger)
		return
	}

	if res.SnapshotID != "" {
		snap := models.NewSnapshot(repo.ID, res.SnapshotID, end)
		snap.Hostname = res.Hostname
		snap.Paths = []string{run.SourcePath}
		if tags != nil {
			snap.Tags = tags
		}
		snap.Size = res.BytesAdded

		if err := c.store.CreateSnapshot(writeCtx, snap); err != nil {
			c.failRun(ctx, run, fmt.Sprintf("record snapshot %s: %v", res.SnapshotID, err), logger)
			return
		}
	}

	logger.Info().
		Str("snapshot_id", run.SnapshotID).
		Int("files_new", run.FilesNew).
		Int("files_changed", run.FilesChanged).
		Int64("bytes_added", run.BytesAdded).
		Msg("backup run completed")
}

// Abandon fails a run that was created but never executed.
func (c *Coordinator) Abandon(ctx context.Context, run *models.Run, reason string) {
	logger := c.logger.With().Str("run_id", run.ID.String()).Logger()
	c.failRun(ctx, run, reason, logger)
	c.finish(ctx, run)
}

// failRun is the single best-effort failure write. A rejected write is
// logged and otherwise ignored.
func (c *Coordinator) failRun(ctx context.Context, run *models.Run, message string, logger zerolog.Logger) {
	run.Fail(c.now(), message)

	writeCtx, cancel := c.writeContext(ctx)
	defer cancel()

	if err := c.store.UpdateRun(writeCtx, run); err != nil {
		logger.Error().
			Err(err).
			Str("run_message", message).
			Msg("failed to record run failure, run may remain in running state")
		return
	}
	logger.Warn().Str("message", message).Msg("backup run failed")
}

func (c *Coordinator) finish(ctx context.Context, run *models.Run) {
	c.metrics.RecordRun(run.Status, run.Duration())
	c.notifier.RunFinished(ctx, run)
}

// writeContext detaches store writes from run cancellation so an abandoned
// run can still record its failure.
func (c *Coordinator) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}
