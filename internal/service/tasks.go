package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/resticron/internal/backup"
	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
)

// CreateTaskInput describes a new scheduled task. CronExpression is used
// for cron schedules and IntervalSeconds for interval schedules.
type CreateTaskInput struct {
	RepositoryID    uuid.UUID           `json:"repository_id" validate:"required"`
	Name            string              `json:"name" validate:"required,max=255"`
	SourcePath      string              `json:"source_path" validate:"required"`
	ScheduleType    models.ScheduleType `json:"schedule_type"`
	CronExpression  string              `json:"cron_expression"`
	IntervalSeconds int                 `json:"interval_seconds"`
	Enabled         *bool               `json:"enabled"`
	Tags            []string            `json:"tags" validate:"dive,required"`
}

// UpdateTaskInput holds the fields to change. Nil fields are left as they are.
type UpdateTaskInput struct {
	Name            *string              `json:"name" validate:"omitnil,min=1,max=255"`
	SourcePath      *string              `json:"source_path" validate:"omitnil,min=1"`
	ScheduleType    *models.ScheduleType `json:"schedule_type"`
	CronExpression  *string              `json:"cron_expression"`
	IntervalSeconds *int                 `json:"interval_seconds"`
	Enabled         *bool                `json:"enabled"`
	Tags            []string             `json:"tags" validate:"omitempty,dive,required"`
}

// AdHocBackupInput requests an immediate backup outside any schedule.
type AdHocBackupInput struct {
	RepositoryID uuid.UUID `json:"repository_id" validate:"required"`
	SourcePath   string    `json:"source_path" validate:"required"`
	Tags         []string  `json:"tags" validate:"dive,required"`
}

// CreateTask validates and stores a task, then arms it. An invalid
// schedule is rejected before anything is stored or armed.
func (s *Service) CreateTask(ctx context.Context, in CreateTaskInput) (*models.ScheduledTask, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	if _, err := backup.NewTrigger(in.ScheduleType, in.CronExpression, in.IntervalSeconds); err != nil {
		return nil, err
	}
	if _, err := s.store.GetRepository(ctx, in.RepositoryID); err != nil {
		return nil, err
	}

	task := models.NewScheduledTask(in.RepositoryID, in.Name, in.SourcePath, in.ScheduleType)
	switch in.ScheduleType {
	case models.ScheduleTypeCron:
		task.SetCron(in.CronExpression)
	case models.ScheduleTypeInterval:
		task.SetInterval(in.IntervalSeconds)
	}
	if in.Enabled != nil {
		task.Enabled = *in.Enabled
	}
	if in.Tags != nil {
		task.Tags = in.Tags
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, persistence("create task", err)
	}
	s.scheduler.Arm(ctx, task)

	s.logger.Info().
		Str("task_id", task.ID.String()).
		Str("repository_id", task.RepositoryID.String()).
		Str("schedule", task.ScheduleParam()).
		Bool("enabled", task.Enabled).
		Msg("task created")
	return task, nil
}

// GetTask returns a task.
func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*models.ScheduledTask, error) {
	return s.store.GetTask(ctx, id)
}

// ListTasks returns every task, or the tasks of one repository.
func (s *Service) ListTasks(ctx context.Context, repositoryID *uuid.UUID) ([]*models.ScheduledTask, error) {
	if repositoryID != nil {
		return s.store.ListTasksByRepository(ctx, *repositoryID)
	}
	return s.store.ListTasks(ctx)
}

// UpdateTask applies a partial update. The task is re-armed only when its
// schedule or enabled flag changed, which also unarms it when it ends up
// disabled. Switching the schedule type clears the other type's parameter.
func (s *Service) UpdateTask(ctx context.Context, id uuid.UUID, in UpdateTaskInput) (*models.ScheduledTask, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}

	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	before := *task

	if in.Name != nil {
		task.Name = *in.Name
	}
	if in.SourcePath != nil {
		task.SourcePath = *in.SourcePath
	}
	if in.Enabled != nil {
		task.Enabled = *in.Enabled
	}
	if in.Tags != nil {
		task.Tags = in.Tags
	}
	if err := applySchedule(task, in); err != nil {
		return nil, err
	}
	if _, err := backup.TriggerForTask(task); err != nil {
		return nil, err
	}

	task.UpdatedAt = s.now()
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, persistence("update task", err)
	}
	if scheduleChanged(&before, task) {
		s.scheduler.Arm(ctx, task)
	}

	s.logger.Info().
		Str("task_id", task.ID.String()).
		Str("schedule", task.ScheduleParam()).
		Bool("enabled", task.Enabled).
		Msg("task updated")
	return task, nil
}

func scheduleChanged(before, after *models.ScheduledTask) bool {
	return before.Enabled != after.Enabled ||
		before.ScheduleType != after.ScheduleType ||
		before.CronExpression != after.CronExpression ||
		before.IntervalSeconds != after.IntervalSeconds
}

func applySchedule(task *models.ScheduledTask, in UpdateTaskInput) error {
	scheduleType := task.ScheduleType
	if in.ScheduleType != nil {
		scheduleType = *in.ScheduleType
	}

	switch scheduleType {
	case models.ScheduleTypeCron:
		expr := task.CronExpression
		if in.CronExpression != nil {
			expr = *in.CronExpression
		}
		task.SetCron(expr)
	case models.ScheduleTypeInterval:
		seconds := task.IntervalSeconds
		if in.IntervalSeconds != nil {
			seconds = *in.IntervalSeconds
		}
		task.SetInterval(seconds)
	default:
		_, err := backup.NewTrigger(scheduleType, "", 0)
		return err
	}
	return nil
}

// DeleteTask deletes a task and unarms it. A run already in flight
// finishes and is still recorded.
func (s *Service) DeleteTask(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteTask(ctx, id); err != nil {
		if errors.Is(err, backup.ErrMissingEntity) {
			s.scheduler.Unarm(id)
			return err
		}
		return persistence("delete task", err)
	}
	s.scheduler.Unarm(id)

	s.logger.Info().Str("task_id", id.String()).Msg("task deleted")
	return nil
}

// RunTaskNow dispatches a task immediately. It returns backup.ErrTaskRunning
// when a run for the task is already in flight.
func (s *Service) RunTaskNow(ctx context.Context, id uuid.UUID) error {
	if _, err := s.store.GetTask(ctx, id); err != nil {
		return err
	}
	if err := s.scheduler.RunTaskNow(id); err != nil {
		return fmt.Errorf("run task %s: %w", id, err)
	}
	return nil
}

// TriggerAdHocBackup creates a running record and executes the backup in
// the background. The caller polls the run for its outcome.
func (s *Service) TriggerAdHocBackup(ctx context.Context, in AdHocBackupInput) (*models.Run, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	return s.scheduler.TriggerAdHoc(ctx, in.RepositoryID, in.SourcePath, in.Tags)
}
