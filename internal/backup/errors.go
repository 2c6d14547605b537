package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSchedule is returned for a malformed cron expression, a
	// non-positive interval or an unknown schedule type.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrRepositoryUnavailable is returned when restic reports a failure
	// against a repository (auth, network, corruption).
	ErrRepositoryUnavailable = errors.New("repository unavailable")

	// ErrMissingEntity is returned when a referenced task, repository, run or
	// snapshot does not exist.
	ErrMissingEntity = errors.New("missing entity")

	// ErrTaskMissing is returned when a scheduled task was deleted before
	// its run started.
	ErrTaskMissing = fmt.Errorf("task no longer exists: %w", ErrMissingEntity)

	// ErrPersistenceFailure is returned when the store rejects a write.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// ScheduleError describes why a schedule definition was rejected.
type ScheduleError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ScheduleError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid schedule: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid schedule: %s %q: %s", e.Field, e.Value, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidSchedule.
func (e *ScheduleError) Unwrap() error {
	return ErrInvalidSchedule
}

// UnavailableError wraps a restic failure message.
type UnavailableError struct {
	Op      string
	Message string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: repository unavailable: %s", e.Op, e.Message)
}

// Unwrap lets errors.Is match ErrRepositoryUnavailable.
func (e *UnavailableError) Unwrap() error {
	return ErrRepositoryUnavailable
}
