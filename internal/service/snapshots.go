package service

import (
	"context"
	"fmt"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
)

// RestoreInput selects where and what to restore from a snapshot.
type RestoreInput struct {
	TargetPath   string   `json:"target_path" validate:"required"`
	IncludePaths []string `json:"include_paths" validate:"dive,required"`
}

// RetentionInput is a retention policy to apply to a repository.
type RetentionInput struct {
	Policy models.RetentionPolicy `json:"policy"`
	Prune  bool                   `json:"prune"`
}

// RetentionOutcome reports a retention run and the re-synced snapshot count.
type RetentionOutcome struct {
	*backup.RetentionResult
	SnapshotsSynced int `json:"snapshots_synced"`
}

// SyncSnapshots replaces the stored snapshots of a repository with the ones
// restic lists and returns how many were stored. Stored snapshots are left
// untouched when restic fails.
func (s *Service) SyncSnapshots(ctx context.Context, repositoryID uuid.UUID) (int, error) {
	repo, cfg, err := s.repositoryConfig(ctx, repositoryID)
	if err != nil {
		return 0, err
	}

	res := s.executor.Snapshots(ctx, cfg)
	if err := res.Err("snapshots"); err != nil {
		return 0, err
	}

	snaps := make([]*models.Snapshot, 0, len(res.Snapshots))
	for _, info := range res.Snapshots {
		snap := models.NewSnapshot(repo.ID, info.ID, info.Time.UTC())
		snap.Hostname = info.Hostname
		if info.Paths != nil {
			snap.Paths = info.Paths
		}
		if info.Tags != nil {
			snap.Tags = info.Tags
		}
		snap.Size = info.Size()
		snaps = append(snaps, snap)
	}

	if err := s.store.ReplaceSnapshots(ctx, repo.ID, snaps); err != nil {
		return 0, persistence("replace snapshots", err)
	}

	s.logger.Info().
		Str("repository_id", repo.ID.String()).
		Int("snapshots", len(snaps)).
		Msg("snapshots synced")
	return len(snaps), nil
}

// ListSnapshots returns the stored snapshots of a repository, newest first.
func (s *Service) ListSnapshots(ctx context.Context, repositoryID uuid.UUID) ([]*models.Snapshot, error) {
	if _, err := s.store.GetRepository(ctx, repositoryID); err != nil {
		return nil, err
	}
	return s.store.ListSnapshots(ctx, repositoryID)
}

// ListSnapshotFiles lists the contents of a snapshot under path.
func (s *Service) ListSnapshotFiles(ctx context.Context, snapshotID uuid.UUID, path string) ([]backup.SnapshotFile, error) {
	snap, cfg, err := s.snapshotConfig(ctx, snapshotID)
	if err != nil {
		return nil, err
	}

	res := s.executor.ListFiles(ctx, cfg, snap.SnapshotID, path)
	if err := res.Err("ls"); err != nil {
		return nil, err
	}
	if res.Files == nil {
		return []backup.SnapshotFile{}, nil
	}
	return res.Files, nil
}

// RestoreSnapshot restores a snapshot into a target directory.
func (s *Service) RestoreSnapshot(ctx context.Context, snapshotID uuid.UUID, in RestoreInput) error {
	if err := s.check(in); err != nil {
		return err
	}

	snap, cfg, err := s.snapshotConfig(ctx, snapshotID)
	if err != nil {
		return err
	}

	res := s.executor.Restore(ctx, cfg, snap.SnapshotID, backup.RestoreOptions{
		TargetPath: in.TargetPath,
		Include:    in.IncludePaths,
	})
	if err := res.Err("restore"); err != nil {
		return err
	}

	s.logger.Info().
		Str("snapshot_id", snap.SnapshotID).
		Str("target", in.TargetPath).
		Msg("snapshot restored")
	return nil
}

// ForgetSnapshot forgets one snapshot in restic, optionally pruning, and
// deletes its stored record.
func (s *Service) ForgetSnapshot(ctx context.Context, snapshotID uuid.UUID, prune bool) error {
	snap, cfg, err := s.snapshotConfig(ctx, snapshotID)
	if err != nil {
		return err
	}

	res := s.executor.Forget(ctx, cfg, backup.ForgetOptions{
		SnapshotIDs: []string{snap.SnapshotID},
		Prune:       prune,
	})
	if err := res.Err("forget"); err != nil {
		return err
	}

	if err := s.store.DeleteSnapshot(ctx, snap.ID); err != nil {
		return persistence("delete snapshot", err)
	}

	s.logger.Info().
		Str("snapshot_id", snap.SnapshotID).
		Bool("prune", prune).
		Msg("snapshot forgotten")
	return nil
}

// ApplyRetention forgets the snapshots a policy does not keep and re-syncs
// the stored snapshots of the repository.
func (s *Service) ApplyRetention(ctx context.Context, repositoryID uuid.UUID, in RetentionInput) (*RetentionOutcome, error) {
	if err := backup.ValidateRetentionPolicy(&in.Policy); err != nil {
		return nil, &ValidationError{Field: "policy", Message: err.Error()}
	}

	_, cfg, err := s.repositoryConfig(ctx, repositoryID)
	if err != nil {
		return nil, err
	}

	result, err := s.retention.ApplyPolicy(ctx, cfg, &in.Policy, in.Prune)
	if err != nil {
		return nil, err
	}

	synced, err := s.SyncSnapshots(ctx, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("resync after retention: %w", err)
	}
	return &RetentionOutcome{RetentionResult: result, SnapshotsSynced: synced}, nil
}

func (s *Service) snapshotConfig(ctx context.Context, snapshotID uuid.UUID) (*models.Snapshot, backup.ResticConfig, error) {
	snap, err := s.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, backup.ResticConfig{}, err
	}
	_, cfg, err := s.repositoryConfig(ctx, snap.RepositoryID)
	if err != nil {
		return nil, backup.ResticConfig{}, err
	}
	return snap, cfg, nil
}
