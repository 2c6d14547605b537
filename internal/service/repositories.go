package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/backup/backends"
	"github.com/MacJediWizard/resticron/internal/db"
	"github.com/MacJediWizard/resticron/internal/health"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
)

// RegisterRepositoryInput describes a repository to initialize and store.
type RegisterRepositoryInput struct {
	Name              string                `json:"name" validate:"required,max=255"`
	Type              models.RepositoryType `json:"type" validate:"required,oneof=local rest-server sftp s3"`
	Location          string                `json:"location" validate:"required"`
	Password          string                `json:"password" validate:"required"`
	RestUsername      string                `json:"rest_username"`
	RestPassword      string                `json:"rest_password"`
	S3AccessKeyID     string                `json:"s3_access_key_id"`
	S3SecretAccessKey string                `json:"s3_secret_access_key"`
	S3Region          string                `json:"s3_region"`
}

// RepositoryCheck is the outcome of a restic check.
type RepositoryCheck struct {
	Repository *models.Repository `json:"repository"`
	OK         bool               `json:"ok"`
	Message    string             `json:"message"`
	// Disk is reported for local repositories only.
	Disk *health.DiskStats `json:"disk,omitempty"`
}

// ConnectionResult is the outcome of a transport probe.
type ConnectionResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// RegisterRepository initializes the repository with restic and stores it.
// Nothing is stored when init fails.
func (s *Service) RegisterRepository(ctx context.Context, in RegisterRepositoryInput) (*models.Repository, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}

	if _, err := s.store.GetRepositoryByName(ctx, in.Name); err == nil {
		return nil, fmt.Errorf("repository %q: %w", in.Name, db.ErrDuplicateName)
	} else if !errors.Is(err, backup.ErrMissingEntity) {
		return nil, fmt.Errorf("look up repository name: %w", err)
	}

	repo := models.NewRepository(in.Name, in.Type, in.Location, in.Password)
	repo.RestUsername = in.RestUsername
	repo.RestPassword = in.RestPassword
	repo.S3AccessKeyID = in.S3AccessKeyID
	repo.S3SecretAccessKey = in.S3SecretAccessKey
	repo.S3Region = in.S3Region

	cfg, err := backends.ConfigFor(repo)
	if err != nil {
		return nil, &ValidationError{Field: "location", Message: err.Error()}
	}

	res := s.executor.Init(ctx, cfg)
	if err := res.Err("init"); err != nil {
		s.logger.Warn().Str("name", repo.Name).Str("message", res.Message).Msg("repository init failed")
		return nil, err
	}

	repo.MarkChecked(s.now(), true)
	if err := s.store.CreateRepository(ctx, repo); err != nil {
		return nil, persistence("create repository", err)
	}

	s.logger.Info().
		Str("repository_id", repo.ID.String()).
		Str("name", repo.Name).
		Str("type", string(repo.Type)).
		Bool("already_initialized", res.AlreadyInitialized).
		Msg("repository registered")
	return repo, nil
}

// GetRepository returns a repository.
func (s *Service) GetRepository(ctx context.Context, id uuid.UUID) (*models.Repository, error) {
	return s.store.GetRepository(ctx, id)
}

// ListRepositories returns every repository.
func (s *Service) ListRepositories(ctx context.Context) ([]*models.Repository, error) {
	return s.store.ListRepositories(ctx)
}

// CheckRepository runs restic check and records the outcome on the
// repository. A failed check is a result, not an error.
func (s *Service) CheckRepository(ctx context.Context, id uuid.UUID) (*RepositoryCheck, error) {
	repo, cfg, err := s.repositoryConfig(ctx, id)
	if err != nil {
		return nil, err
	}

	res := s.executor.Check(ctx, cfg)
	repo.MarkChecked(s.now(), res.OK)
	if err := s.store.UpdateRepository(ctx, repo); err != nil {
		return nil, persistence("update repository status", err)
	}

	result := &RepositoryCheck{Repository: repo, OK: res.OK, Message: res.Message}
	if repo.Type == models.RepositoryTypeLocal {
		disk, err := s.diskUsage(ctx, repo.Location)
		if err != nil {
			s.logger.Debug().Err(err).Str("repository_id", id.String()).Msg("disk usage unavailable")
		} else {
			result.Disk = disk
		}
	}
	return result, nil
}

// TestConnection probes the repository transport without restic.
func (s *Service) TestConnection(ctx context.Context, id uuid.UUID) (*ConnectionResult, error) {
	repo, err := s.store.GetRepository(ctx, id)
	if err != nil {
		return nil, err
	}

	b, err := backends.FromRepository(repo)
	if err != nil {
		return &ConnectionResult{OK: false, Message: err.Error()}, nil
	}
	if err := b.TestConnection(ctx); err != nil {
		return &ConnectionResult{OK: false, Message: err.Error()}, nil
	}
	return &ConnectionResult{OK: true, Message: "connection successful"}, nil
}

// RepositoryStats returns restic's size statistics for a repository.
func (s *Service) RepositoryStats(ctx context.Context, id uuid.UUID) (*backup.StatsResult, error) {
	_, cfg, err := s.repositoryConfig(ctx, id)
	if err != nil {
		return nil, err
	}

	res := s.executor.Stats(ctx, cfg)
	if err := res.Err("stats"); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteRepository unarms the repository's tasks and deletes the repository
// with its tasks, runs and snapshots. Tasks are re-armed if the delete fails.
func (s *Service) DeleteRepository(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.GetRepository(ctx, id); err != nil {
		return err
	}

	tasks, err := s.store.ListTasksByRepository(ctx, id)
	if err != nil {
		return fmt.Errorf("list repository tasks: %w", err)
	}
	for _, task := range tasks {
		s.scheduler.Unarm(task.ID)
	}

	if err := s.store.DeleteRepository(ctx, id); err != nil {
		for _, task := range tasks {
			s.scheduler.Arm(ctx, task)
		}
		return persistence("delete repository", err)
	}

	s.logger.Info().
		Str("repository_id", id.String()).
		Int("tasks", len(tasks)).
		Msg("repository deleted")
	return nil
}

func (s *Service) repositoryConfig(ctx context.Context, id uuid.UUID) (*models.Repository, backup.ResticConfig, error) {
	repo, err := s.store.GetRepository(ctx, id)
	if err != nil {
		return nil, backup.ResticConfig{}, err
	}
	cfg, err := backends.ConfigFor(repo)
	if err != nil {
		return nil, backup.ResticConfig{}, &backup.UnavailableError{Op: "configure", Message: err.Error()}
	}
	return repo, cfg, nil
}
