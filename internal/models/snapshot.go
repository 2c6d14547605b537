package models

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot mirrors a restic snapshot into local storage.
// SnapshotID is restic's identifier and is only unique within its repository.
type Snapshot struct {
	ID           uuid.UUID `json:"id"`
	RepositoryID uuid.UUID `json:"repository_id"`
	SnapshotID   string    `json:"snapshot_id"`
	Time         time.Time `json:"time"`
	Hostname     string    `json:"hostname"`
	Paths        []string  `json:"paths"`
	Tags         []string  `json:"tags"`
	Size         int64     `json:"size"`
}

// NewSnapshot creates a Snapshot record for the given repository.
func NewSnapshot(repositoryID uuid.UUID, snapshotID string, at time.Time) *Snapshot {
	return &Snapshot{
		ID:           uuid.New(),
		RepositoryID: repositoryID,
		SnapshotID:   snapshotID,
		Time:         at,
		Paths:        []string{},
		Tags:         []string{},
	}
}
