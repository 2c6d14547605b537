package service

import (
	"context"

	"github.com/MacJediWizard/resticron/internal/db"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
)

// RunQuery narrows ListRuns.
type RunQuery struct {
	RepositoryID *uuid.UUID
	TaskID       *uuid.UUID
	Status       models.RunStatus `validate:"omitempty,oneof=running completed failed"`
	Limit        int              `validate:"min=0"`
}

// ListRuns returns runs newest first. The limit defaults to 50 and is
// capped at 500.
func (s *Service) ListRuns(ctx context.Context, q RunQuery) ([]*models.Run, error) {
	if err := s.check(q); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit == 0 {
		limit = defaultRunLimit
	}
	limit = min(limit, maxRunLimit)

	return s.store.ListRuns(ctx, db.RunFilter{
		RepositoryID: q.RepositoryID,
		TaskID:       q.TaskID,
		Status:       q.Status,
		Limit:        limit,
	})
}

// GetRun returns a run. Callers poll it to follow an ad hoc backup.
func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	return s.store.GetRun(ctx, id)
}
