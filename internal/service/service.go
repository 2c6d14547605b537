// Package service implements the operations exposed to the API: task and
// repository management, ad hoc backups, snapshot maintenance and settings.
// Every task mutation goes through the scheduler so live jobs always match
// the stored task definitions.
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/db"
	"github.com/MacJediWizard/resticron/internal/health"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Store is the persistence the service needs. *db.DB implements it.
type Store interface {
	CreateRepository(ctx context.Context, repo *models.Repository) error
	GetRepository(ctx context.Context, id uuid.UUID) (*models.Repository, error)
	GetRepositoryByName(ctx context.Context, name string) (*models.Repository, error)
	ListRepositories(ctx context.Context) ([]*models.Repository, error)
	UpdateRepository(ctx context.Context, repo *models.Repository) error
	DeleteRepository(ctx context.Context, id uuid.UUID) error

	CreateTask(ctx context.Context, task *models.ScheduledTask) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.ScheduledTask, error)
	ListTasks(ctx context.Context) ([]*models.ScheduledTask, error)
	ListTasksByRepository(ctx context.Context, repositoryID uuid.UUID) ([]*models.ScheduledTask, error)
	UpdateTask(ctx context.Context, task *models.ScheduledTask) error
	DeleteTask(ctx context.Context, id uuid.UUID) error

	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	ListRuns(ctx context.Context, filter db.RunFilter) ([]*models.Run, error)

	GetSnapshot(ctx context.Context, id uuid.UUID) (*models.Snapshot, error)
	ListSnapshots(ctx context.Context, repositoryID uuid.UUID) ([]*models.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id uuid.UUID) error
	ReplaceSnapshots(ctx context.Context, repositoryID uuid.UUID, snaps []*models.Snapshot) error

	GetSettings(ctx context.Context) (map[string]string, error)
	SetSettings(ctx context.Context, settings map[string]string) error
}

// Scheduler is the part of the scheduler core the service drives.
// *backup.Scheduler implements it.
type Scheduler interface {
	Arm(ctx context.Context, task *models.ScheduledTask) *time.Time
	Unarm(taskID uuid.UUID)
	RunTaskNow(taskID uuid.UUID) error
	TriggerAdHoc(ctx context.Context, repositoryID uuid.UUID, sourcePath string, tags []string) (*models.Run, error)
}

var _ Store = (*db.DB)(nil)
var _ Scheduler = (*backup.Scheduler)(nil)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Service wires the store, the scheduler and the restic executor together.
type Service struct {
	store     Store
	scheduler Scheduler
	executor  backup.Executor
	retention *backup.RetentionEnforcer
	validate  *validator.Validate
	logger    zerolog.Logger
	now       func() time.Time
	diskUsage func(ctx context.Context, path string) (*health.DiskStats, error)
}

// New creates a Service.
func New(store Store, scheduler Scheduler, executor backup.Executor, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "service").Logger()
	return &Service{
		store:     store,
		scheduler: scheduler,
		executor:  executor,
		retention: backup.NewRetentionEnforcer(executor, logger),
		validate:  newValidator(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		diskUsage: health.DiskUsage,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check validates a struct and converts the first failure to a ValidationError.
func (s *Service) check(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Message: err.Error()}
	}

	fe := fieldErrs[0]
	return &ValidationError{Field: fe.Field(), Message: describeTag(fe)}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

// persistence wraps a store write failure so callers can match it.
func persistence(op string, err error) error {
	if errors.Is(err, backup.ErrMissingEntity) || errors.Is(err, db.ErrDuplicateName) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", backup.ErrPersistenceFailure, op, err)
}
