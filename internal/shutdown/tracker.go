package shutdown

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunTracker records in-flight backup executions and the cancel function
// that abandons each of them.
type RunTracker struct {
	logger  zerolog.Logger
	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	idle    chan struct{}
}

// NewRunTracker creates an empty tracker.
func NewRunTracker(logger zerolog.Logger) *RunTracker {
	idle := make(chan struct{})
	close(idle)
	return &RunTracker{
		logger:  logger.With().Str("component", "run_tracker").Logger(),
		running: make(map[uuid.UUID]context.CancelFunc),
		idle:    idle,
	}
}

// Register marks an execution as in flight.
func (t *RunTracker) Register(id uuid.UUID, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.running) == 0 {
		t.idle = make(chan struct{})
	}
	t.running[id] = cancel
	t.logger.Debug().Str("execution_id", id.String()).Msg("execution registered")
}

// Unregister removes an execution from the in-flight set.
func (t *RunTracker) Unregister(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return
	}
	delete(t.running, id)
	if len(t.running) == 0 {
		close(t.idle)
	}
	t.logger.Debug().Str("execution_id", id.String()).Msg("execution unregistered")
}

// Count returns the number of in-flight executions.
func (t *RunTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running)
}

// Wait blocks until no execution is in flight or ctx is done.
func (t *RunTracker) Wait(ctx context.Context) error {
	t.mu.Lock()
	idle := t.idle
	t.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAll cancels every in-flight execution. Executions stay registered
// until they unregister themselves.
func (t *RunTracker) CancelAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cancel := range t.running {
		if cancel != nil {
			cancel()
		}
	}
	return len(t.running)
}
