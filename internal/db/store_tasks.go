package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
)

const taskColumns = `id, repository_id, name, source_path, schedule_type, cron_expression,
	interval_seconds, enabled, last_run, next_run, tags, created_at, updated_at`

// CreateTask inserts a scheduled task.
func (db *DB) CreateTask(ctx context.Context, task *models.ScheduledTask) error {
	tags, err := encodeStrings(task.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = db.SQL.ExecContext(ctx, db.rebind(`
		INSERT INTO scheduled_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), task.ID, task.RepositoryID, task.Name, task.SourcePath, string(task.ScheduleType),
		task.CronExpression, task.IntervalSeconds, task.Enabled,
		db.tsPtr(task.LastRun), db.tsPtr(task.NextRun), tags,
		db.ts(task.CreatedAt), db.ts(task.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask returns a scheduled task by ID.
func (db *DB) GetTask(ctx context.Context, id uuid.UUID) (*models.ScheduledTask, error) {
	row := db.SQL.QueryRowContext(ctx, db.rebind(`
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		WHERE id = ?
	`), id)

	task, err := scanTask(row)
	if err != nil {
		return nil, notFound(err, "get task")
	}
	return task, nil
}

// ListTasks returns all tasks ordered by name.
func (db *DB) ListTasks(ctx context.Context) ([]*models.ScheduledTask, error) {
	return db.queryTasks(ctx, "list tasks", `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		ORDER BY name, created_at
	`)
}

// ListTasksByRepository returns the tasks that back up into a repository.
func (db *DB) ListTasksByRepository(ctx context.Context, repositoryID uuid.UUID) ([]*models.ScheduledTask, error) {
	return db.queryTasks(ctx, "list tasks by repository", `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		WHERE repository_id = ?
		ORDER BY name, created_at
	`, repositoryID)
}

// ListEnabledTasks returns all enabled tasks.
func (db *DB) ListEnabledTasks(ctx context.Context) ([]*models.ScheduledTask, error) {
	return db.queryTasks(ctx, "list enabled tasks", `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		WHERE enabled = ?
		ORDER BY created_at
	`, true)
}

// UpdateTask updates a task's definition. Last-run and next-run bookkeeping
// have their own setters.
func (db *DB) UpdateTask(ctx context.Context, task *models.ScheduledTask) error {
	tags, err := encodeStrings(task.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	task.UpdatedAt = time.Now().UTC()
	res, err := db.SQL.ExecContext(ctx, db.rebind(`
		UPDATE scheduled_tasks
		SET name = ?, source_path = ?, schedule_type = ?, cron_expression = ?,
			interval_seconds = ?, enabled = ?, tags = ?, updated_at = ?
		WHERE id = ?
	`), task.Name, task.SourcePath, string(task.ScheduleType), task.CronExpression,
		task.IntervalSeconds, task.Enabled, tags, db.ts(task.UpdatedAt), task.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireAffected(res, "update task")
}

// DeleteTask removes a task. Its runs are kept.
func (db *DB) DeleteTask(ctx context.Context, id uuid.UUID) error {
	res, err := db.SQL.ExecContext(ctx, db.rebind("DELETE FROM scheduled_tasks WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireAffected(res, "delete task")
}

// UpdateTaskLastRun sets a task's last-run timestamp.
func (db *DB) UpdateTaskLastRun(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := db.SQL.ExecContext(ctx, db.rebind(`
		UPDATE scheduled_tasks SET last_run = ? WHERE id = ?
	`), db.ts(at), id)
	if err != nil {
		return fmt.Errorf("update task last run: %w", err)
	}
	return requireAffected(res, "update task last run")
}

// UpdateTaskNextRun sets or clears a task's next-run timestamp. A task
// deleted in the meantime is not an error.
func (db *DB) UpdateTaskNextRun(ctx context.Context, id uuid.UUID, next *time.Time) error {
	_, err := db.SQL.ExecContext(ctx, db.rebind(`
		UPDATE scheduled_tasks SET next_run = ? WHERE id = ?
	`), db.tsPtr(next), id)
	if err != nil {
		return fmt.Errorf("update task next run: %w", err)
	}
	return nil
}

func (db *DB) queryTasks(ctx context.Context, op, query string, args ...any) ([]*models.ScheduledTask, error) {
	rows, err := db.SQL.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var tasks []*models.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return tasks, nil
}

func scanTask(row rowScanner) (*models.ScheduledTask, error) {
	var (
		t                  models.ScheduledTask
		scheduleType, tags string
		lastRun, nextRun   dbTime
		createdAt          dbTime
		updatedAt          dbTime
	)
	err := row.Scan(
		&t.ID, &t.RepositoryID, &t.Name, &t.SourcePath, &scheduleType, &t.CronExpression,
		&t.IntervalSeconds, &t.Enabled, &lastRun, &nextRun, &tags, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.ScheduleType = models.ScheduleType(scheduleType)
	t.LastRun = lastRun.Ptr()
	t.NextRun = nextRun.Ptr()
	t.CreatedAt = createdAt.Time
	t.UpdatedAt = updatedAt.Time
	if t.Tags, err = decodeStrings(tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &t, nil
}

// encodeStrings stores a string list as a JSON array, never null.
func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeStrings(data string) ([]string, error) {
	values := []string{}
	if data == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}
