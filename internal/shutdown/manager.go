// Package shutdown coordinates graceful shutdown of in-flight backup runs.
package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State represents the current shutdown state.
type State string

const (
	// StateRunning indicates the scheduler accepts new runs.
	StateRunning State = "running"
	// StateDraining indicates in-flight runs are being waited for.
	StateDraining State = "draining"
	// StateAbandoning indicates the drain timed out and remaining runs were cancelled.
	StateAbandoning State = "abandoning"
	// StateComplete indicates shutdown is complete.
	StateComplete State = "complete"
)

// Status represents the current shutdown status.
type Status struct {
	State            State      `json:"state"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	RunningBackups   int        `json:"running_backups"`
	AbandonedCount   int        `json:"abandoned_count"`
	AcceptingNewJobs bool       `json:"accepting_new_jobs"`
	Message          string     `json:"message,omitempty"`
}

// Config holds configuration for the shutdown manager.
type Config struct {
	// Timeout is the maximum time to wait for in-flight runs.
	Timeout time.Duration

	// AbandonGrace is how long cancelled runs get to record their failure.
	AbandonGrace time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		AbandonGrace: 5 * time.Second,
	}
}

// Manager stops admission of new runs and drains the tracker.
type Manager struct {
	config        Config
	tracker       *RunTracker
	logger        zerolog.Logger
	mu            sync.RWMutex
	state         State
	startedAt     *time.Time
	abandoned     int
	acceptingJobs atomic.Bool
	shutdownOnce  sync.Once
}

// NewManager creates a new shutdown manager.
func NewManager(config Config, tracker *RunTracker, logger zerolog.Logger) *Manager {
	m := &Manager{
		config:  config,
		tracker: tracker,
		logger:  logger.With().Str("component", "shutdown_manager").Logger(),
		state:   StateRunning,
	}
	m.acceptingJobs.Store(true)
	return m
}

// IsAcceptingJobs returns true while new runs may be dispatched.
func (m *Manager) IsAcceptingJobs() bool {
	return m.acceptingJobs.Load()
}

// Tracker returns the run tracker drained by this manager.
func (m *Manager) Tracker() *RunTracker {
	return m.tracker
}

// GetStatus returns the current shutdown status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		State:            m.state,
		StartedAt:        m.startedAt,
		RunningBackups:   m.tracker.Count(),
		AbandonedCount:   m.abandoned,
		AcceptingNewJobs: m.acceptingJobs.Load(),
	}

	switch m.state {
	case StateRunning:
		status.Message = "accepting new runs"
	case StateDraining:
		status.Message = "waiting for in-flight runs, not accepting new runs"
	case StateAbandoning:
		status.Message = "abandoning in-flight runs"
	case StateComplete:
		status.Message = "shutdown complete"
	}

	return status
}

// Shutdown stops accepting jobs and waits for in-flight runs up to the
// configured timeout or until ctx is done, whichever comes first. Runs
// still in flight are then cancelled and given AbandonGrace to record
// their failure. Calling Shutdown more than once is a no-op.
func (m *Manager) Shutdown(ctx context.Context) {
	m.shutdownOnce.Do(func() {
		m.doShutdown(ctx)
	})
}

func (m *Manager) doShutdown(ctx context.Context) {
	now := time.Now()
	m.mu.Lock()
	m.startedAt = &now
	m.state = StateDraining
	m.mu.Unlock()
	m.acceptingJobs.Store(false)

	m.logger.Info().
		Dur("timeout", m.config.Timeout).
		Int("running_backups", m.tracker.Count()).
		Msg("draining in-flight runs")

	waitCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	err := m.tracker.Wait(waitCtx)
	cancel()

	if err != nil {
		m.mu.Lock()
		m.state = StateAbandoning
		m.abandoned = m.tracker.CancelAll()
		abandoned := m.abandoned
		m.mu.Unlock()

		m.logger.Warn().Int("abandoned", abandoned).Msg("shutdown timeout reached, cancelling in-flight runs")

		graceCtx, graceCancel := context.WithTimeout(context.Background(), m.config.AbandonGrace)
		if err := m.tracker.Wait(graceCtx); err != nil {
			m.logger.Warn().Int("running_backups", m.tracker.Count()).Msg("runs did not finish after cancellation")
		}
		graceCancel()
	}

	m.mu.Lock()
	m.state = StateComplete
	m.mu.Unlock()

	m.logger.Info().Dur("duration", time.Since(now)).Msg("graceful shutdown complete")
}
