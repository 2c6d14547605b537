package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a backup run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is a single backup execution record.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	RepositoryID uuid.UUID  `json:"repository_id"`
	TaskID       *uuid.UUID `json:"task_id,omitempty"`
	SourcePath   string     `json:"source_path"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Status       RunStatus  `json:"status"`
	Message      string     `json:"message,omitempty"`
	FilesNew     int        `json:"files_new"`
	FilesChanged int        `json:"files_changed"`
	BytesAdded   int64      `json:"bytes_added"`
	SnapshotID   string     `json:"snapshot_id,omitempty"`
}

// NewRun creates a running Run for the given repository and source path.
func NewRun(repositoryID uuid.UUID, taskID *uuid.UUID, sourcePath string, start time.Time) *Run {
	return &Run{
		ID:           uuid.New(),
		RepositoryID: repositoryID,
		TaskID:       taskID,
		SourcePath:   sourcePath,
		StartTime:    start,
		Status:       RunStatusRunning,
	}
}

// Complete marks the run as completed with the counters reported by restic.
func (r *Run) Complete(at time.Time, snapshotID string, filesNew, filesChanged int, bytesAdded int64, message string) {
	r.EndTime = &at
	r.Status = RunStatusCompleted
	r.SnapshotID = snapshotID
	r.FilesNew = filesNew
	r.FilesChanged = filesChanged
	r.BytesAdded = bytesAdded
	r.Message = message
}

// Fail marks the run as failed with the given message.
func (r *Run) Fail(at time.Time, message string) {
	r.EndTime = &at
	r.Status = RunStatusFailed
	r.Message = message
}

// IsTerminal reports whether the run has reached completed or failed.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// Duration returns how long the run took, or zero while it is still running.
func (r *Run) Duration() time.Duration {
	if r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
