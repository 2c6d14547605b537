package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/MacJediWizard/resticron/internal/shutdown"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrTaskRunning is returned when a run is requested for a task whose
// previous run has not finished.
var ErrTaskRunning = errors.New("task run already in progress")

// ErrShuttingDown is returned when a run is requested after shutdown began.
var ErrShuttingDown = errors.New("scheduler is shutting down")

// orphanMessage is recorded on runs found in running state at startup.
const orphanMessage = "interrupted: process restarted before the run finished"

// ScheduleStore defines the persistence the scheduler needs.
type ScheduleStore interface {
	// ListEnabledTasks returns all enabled tasks.
	ListEnabledTasks(ctx context.Context) ([]*models.ScheduledTask, error)

	// UpdateTaskNextRun sets or clears a task's next-run timestamp.
	UpdateTaskNextRun(ctx context.Context, id uuid.UUID, next *time.Time) error

	// FailRunningRuns marks runs still running that started before the
	// cutoff as failed and returns how many were updated.
	FailRunningRuns(ctx context.Context, startedBefore time.Time, message string, at time.Time) (int64, error)
}

// SchedulerConfig holds configuration for the backup scheduler.
type SchedulerConfig struct {
	// MaxConcurrentRuns caps runs executing at once across all tasks. Zero means unbounded.
	MaxConcurrentRuns int

	// RunTimeout bounds a single run. Zero means no limit.
	RunTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for in-flight runs before cancelling them.
	ShutdownTimeout time.Duration

	// OrphanSweep fails runs left running by a previous process on Start.
	OrphanSweep bool

	// OrphanThreshold only sweeps runs that started at least this long ago.
	OrphanThreshold time.Duration
}

// DefaultSchedulerConfig returns a SchedulerConfig with sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentRuns: 4,
		RunTimeout:        24 * time.Hour,
		ShutdownTimeout:   30 * time.Second,
		OrphanSweep:       true,
	}
}

// Scheduler keeps one cron entry per enabled task and dispatches runs to
// the coordinator. At most one run per task is in flight; a fire that
// arrives while the previous run is still going is dropped.
type Scheduler struct {
	store       ScheduleStore
	coordinator *Coordinator
	config      SchedulerConfig
	metrics     Metrics
	shutdown    *shutdown.Manager
	sem         *semaphore.Weighted
	cron        *cron.Cron
	logger      zerolog.Logger
	now         func() time.Time

	// nextRunMu orders changes to the live job set with the next-run
	// writes they cause, so the last arm or unarm decides the stored value.
	nextRunMu sync.Mutex

	mu       sync.Mutex
	entries  map[uuid.UUID]armedJob
	inFlight map[uuid.UUID]struct{}
	running  bool
	stopped  bool
}

// armedJob is a task's live cron entry and the schedule it was armed with.
type armedJob struct {
	id       cron.EntryID
	schedule *firstFireSchedule
}

// NewScheduler creates a new backup scheduler.
func NewScheduler(store ScheduleStore, coordinator *Coordinator, config SchedulerConfig, logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()

	shutdownCfg := shutdown.DefaultConfig()
	if config.ShutdownTimeout > 0 {
		shutdownCfg.Timeout = config.ShutdownTimeout
	}

	s := &Scheduler{
		store:       store,
		coordinator: coordinator,
		config:      config,
		metrics:     nopMetrics{},
		shutdown:    shutdown.NewManager(shutdownCfg, shutdown.NewRunTracker(logger), logger),
		cron:        cron.New(cron.WithLocation(time.UTC)),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		entries:     make(map[uuid.UUID]armedJob),
		inFlight:    make(map[uuid.UUID]struct{}),
	}
	if config.MaxConcurrentRuns > 0 {
		s.sem = semaphore.NewWeighted(int64(config.MaxConcurrentRuns))
	}
	return s
}

// SetMetrics sets the metrics sink. It must be called before Start.
func (s *Scheduler) SetMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// Start sweeps orphaned runs, arms every enabled task and starts the cron runtime.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	if s.stopped {
		s.mu.Unlock()
		return errors.New("scheduler already stopped")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Msg("starting backup scheduler")

	if s.config.OrphanSweep {
		s.sweepOrphanedRuns(ctx)
	}

	if err := s.Reload(ctx); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("load schedules: %w", err)
	}

	s.cron.Start()
	s.logger.Info().Int("armed", s.ArmedCount()).Msg("backup scheduler started")
	return nil
}

// Stop stops firing new jobs and drains in-flight runs. Runs still going
// after the shutdown timeout or when ctx is done are cancelled. Stop is
// safe to call on a scheduler that was never started.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.stopped = true
	s.mu.Unlock()

	if wasRunning {
		s.logger.Info().Msg("stopping backup scheduler")
		cronCtx := s.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}

	s.shutdown.Shutdown(ctx)
	return nil
}

func (s *Scheduler) sweepOrphanedRuns(ctx context.Context) {
	now := s.now()
	cutoff := now.Add(-s.config.OrphanThreshold)

	n, err := s.store.FailRunningRuns(ctx, cutoff, orphanMessage, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to sweep orphaned runs")
		return
	}
	if n > 0 {
		s.logger.Warn().Int64("runs", n).Msg("marked orphaned runs as failed")
	}
}

// Reload rebuilds the live job set from the enabled tasks in the store.
// Tasks with an invalid schedule are logged and left unarmed.
func (s *Scheduler) Reload(ctx context.Context) error {
	tasks, err := s.store.ListEnabledTasks(ctx)
	if err != nil {
		return fmt.Errorf("list enabled tasks: %w", err)
	}

	enabled := make(map[uuid.UUID]struct{}, len(tasks))
	for _, task := range tasks {
		enabled[task.ID] = struct{}{}
		s.Arm(ctx, task)
	}

	s.mu.Lock()
	var stale []uuid.UUID
	for id := range s.entries {
		if _, ok := enabled[id]; !ok {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.Unarm(id)
	}

	s.logger.Info().
		Int("enabled", len(tasks)).
		Int("armed", s.ArmedCount()).
		Msg("schedules loaded")
	return nil
}

// Arm registers the live job for a task and persists its next-run time,
// replacing any job already registered for the task. Disabled tasks and
// tasks whose schedule does not parse end up unarmed with no next run.
// The returned time is the next fire, or nil when the task is unarmed.
func (s *Scheduler) Arm(ctx context.Context, task *models.ScheduledTask) *time.Time {
	logger := s.logger.With().
		Str("task_id", task.ID.String()).
		Str("task", task.Name).
		Logger()

	if !task.Enabled {
		s.unarmAndClear(ctx, task)
		return nil
	}

	trigger, err := TriggerForTask(task)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid schedule, task left unarmed")
		s.unarmAndClear(ctx, task)
		return nil
	}

	next := trigger.FirstFire(s.now(), task.LastRun)
	schedule := &firstFireSchedule{first: next, trigger: trigger}
	taskID := task.ID

	s.nextRunMu.Lock()
	defer s.nextRunMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		logger.Debug().Msg("scheduler stopped, not arming task")
		return nil
	}
	if old, ok := s.entries[taskID]; ok {
		s.cron.Remove(old.id)
	}
	s.entries[taskID] = armedJob{
		id: s.cron.Schedule(schedule, cron.FuncJob(func() {
			s.fire(taskID, schedule)
		})),
		schedule: schedule,
	}
	armed := len(s.entries)
	s.mu.Unlock()

	s.metrics.SetArmedTasks(armed)
	task.NextRun = &next
	s.persistNextRun(ctx, taskID, &next)

	logger.Debug().Time("next_run", next).Msg("task armed")
	return &next
}

// Unarm removes a task's live job. Unarming a task that has no job is a no-op.
func (s *Scheduler) Unarm(taskID uuid.UUID) {
	s.unarm(taskID)
}

func (s *Scheduler) unarm(taskID uuid.UUID) bool {
	s.mu.Lock()
	job, ok := s.entries[taskID]
	if ok {
		s.cron.Remove(job.id)
		delete(s.entries, taskID)
	}
	armed := len(s.entries)
	s.mu.Unlock()

	if ok {
		s.metrics.SetArmedTasks(armed)
		s.logger.Debug().Str("task_id", taskID.String()).Msg("task unarmed")
	}
	return ok
}

func (s *Scheduler) unarmAndClear(ctx context.Context, task *models.ScheduledTask) {
	s.nextRunMu.Lock()
	defer s.nextRunMu.Unlock()

	wasArmed := s.unarm(task.ID)
	if wasArmed || task.NextRun != nil {
		task.NextRun = nil
		s.persistNextRun(ctx, task.ID, nil)
	}
}

func (s *Scheduler) persistNextRun(ctx context.Context, taskID uuid.UUID, next *time.Time) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := s.store.UpdateTaskNextRun(writeCtx, taskID, next); err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID.String()).Msg("failed to persist next run")
	}
}

// fire is invoked by the cron runtime on its own goroutine. A fire whose
// job was replaced or removed after the runtime launched it does nothing.
func (s *Scheduler) fire(taskID uuid.UUID, schedule *firstFireSchedule) {
	logger := s.logger.With().Str("task_id", taskID.String()).Logger()

	s.nextRunMu.Lock()
	s.mu.Lock()
	job, ok := s.entries[taskID]
	s.mu.Unlock()
	if !ok || job.schedule != schedule {
		s.nextRunMu.Unlock()
		logger.Debug().Msg("stale fire ignored")
		return
	}
	next := schedule.Next(s.now())
	s.persistNextRun(context.Background(), taskID, &next)
	s.nextRunMu.Unlock()

	err := s.dispatchTask(taskID)
	switch {
	case err == nil:
	case errors.Is(err, ErrTaskRunning):
		s.metrics.RecordCoalesced()
		logger.Info().Msg("previous run still in flight, fire coalesced")
	default:
		logger.Info().Err(err).Msg("scheduled fire skipped")
	}
}

// RunTaskNow dispatches a task immediately through the same coalescing
// path as a scheduled fire.
func (s *Scheduler) RunTaskNow(taskID uuid.UUID) error {
	return s.dispatchTask(taskID)
}

func (s *Scheduler) dispatchTask(taskID uuid.UUID) error {
	if !s.shutdown.IsAcceptingJobs() {
		return ErrShuttingDown
	}

	s.mu.Lock()
	if _, busy := s.inFlight[taskID]; busy {
		s.mu.Unlock()
		return ErrTaskRunning
	}
	s.inFlight[taskID] = struct{}{}
	s.mu.Unlock()

	s.spawn(
		func(ctx context.Context) {
			// Drop the live job of a task deleted without being unarmed.
			if _, err := s.coordinator.RunTask(ctx, taskID); errors.Is(err, ErrTaskMissing) {
				s.Unarm(taskID)
			}
		},
		func(string) {},
		func() {
			s.mu.Lock()
			delete(s.inFlight, taskID)
			s.mu.Unlock()
		},
	)
	return nil
}

// TriggerAdHoc creates a running record for an on-demand backup and
// executes it on a worker. The returned run is a copy taken before the
// worker starts.
func (s *Scheduler) TriggerAdHoc(ctx context.Context, repositoryID uuid.UUID, sourcePath string, tags []string) (*models.Run, error) {
	if !s.shutdown.IsAcceptingJobs() {
		return nil, ErrShuttingDown
	}

	run, repo, err := s.coordinator.BeginAdHoc(ctx, repositoryID, sourcePath)
	if err != nil {
		return nil, err
	}
	snapshot := *run

	s.spawn(
		func(ctx context.Context) {
			s.coordinator.Execute(ctx, repo, run, tags)
		},
		func(reason string) {
			s.coordinator.Abandon(context.Background(), run, reason)
		},
		func() {},
	)
	return &snapshot, nil
}

// spawn runs fn on its own goroutine with its own context, registered with
// the shutdown tracker. abandon is called instead of fn when the run is
// cancelled while waiting for a concurrency slot.
func (s *Scheduler) spawn(fn func(ctx context.Context), abandon func(reason string), done func()) {
	ctx, cancel := context.WithCancel(context.Background())
	execID := uuid.New()
	tracker := s.shutdown.Tracker()
	tracker.Register(execID, cancel)
	s.metrics.SetRunsInFlight(tracker.Count())

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Msg("panic in run worker")
			}
			cancel()
			done()
			tracker.Unregister(execID)
			s.metrics.SetRunsInFlight(tracker.Count())
		}()

		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				abandon(fmt.Sprintf("run cancelled before it started: %v", err))
				return
			}
			defer s.sem.Release(1)
		}

		runCtx := ctx
		if s.config.RunTimeout > 0 {
			var runCancel context.CancelFunc
			runCtx, runCancel = context.WithTimeout(ctx, s.config.RunTimeout)
			defer runCancel()
		}

		fn(runCtx)
	}()
}

// NextRun returns the next scheduled fire for a task, if armed.
func (s *Scheduler) NextRun(taskID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	job, ok := s.entries[taskID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}

	entry := s.cron.Entry(job.id)
	if !entry.Valid() {
		return time.Time{}, false
	}
	if entry.Next.IsZero() {
		// The cron runtime computes Next on Start.
		if sched, ok := entry.Schedule.(*firstFireSchedule); ok {
			return sched.first, true
		}
	}
	return entry.Next, true
}

// IsArmed reports whether a task has a live job.
func (s *Scheduler) IsArmed(taskID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[taskID]
	return ok
}

// IsInFlight reports whether a run for the task is executing.
func (s *Scheduler) IsInFlight(taskID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[taskID]
	return ok
}

// ArmedCount returns the number of live jobs.
func (s *Scheduler) ArmedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// IsRunning reports whether the cron runtime is started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ShutdownStatus reports drain progress.
func (s *Scheduler) ShutdownStatus() shutdown.Status {
	return s.shutdown.GetStatus()
}
