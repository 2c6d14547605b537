package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
)

const runColumns = `id, repository_id, task_id, source_path, start_time, end_time, status,
	message, files_new, files_changed, bytes_added, snapshot_id`

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	RepositoryID *uuid.UUID
	TaskID       *uuid.UUID
	Status       models.RunStatus
	Limit        int
}

// CreateRun inserts a run record.
func (db *DB) CreateRun(ctx context.Context, run *models.Run) error {
	_, err := db.SQL.ExecContext(ctx, db.rebind(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), run.ID, run.RepositoryID, nullUUID(run.TaskID), run.SourcePath,
		db.ts(run.StartTime), db.tsPtr(run.EndTime), string(run.Status), run.Message,
		run.FilesNew, run.FilesChanged, run.BytesAdded, run.SnapshotID)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRun writes a run's outcome.
func (db *DB) UpdateRun(ctx context.Context, run *models.Run) error {
	res, err := db.SQL.ExecContext(ctx, db.rebind(`
		UPDATE runs
		SET end_time = ?, status = ?, message = ?, files_new = ?, files_changed = ?,
			bytes_added = ?, snapshot_id = ?
		WHERE id = ?
	`), db.tsPtr(run.EndTime), string(run.Status), run.Message, run.FilesNew,
		run.FilesChanged, run.BytesAdded, run.SnapshotID, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return requireAffected(res, "update run")
}

// GetRun returns a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	row := db.SQL.QueryRowContext(ctx, db.rebind(`
		SELECT `+runColumns+`
		FROM runs
		WHERE id = ?
	`), id)

	run, err := scanRun(row)
	if err != nil {
		return nil, notFound(err, "get run")
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (db *DB) ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error) {
	var (
		where []string
		args  []any
	)
	if filter.RepositoryID != nil {
		where = append(where, "repository_id = ?")
		args = append(args, *filter.RepositoryID)
	}
	if filter.TaskID != nil {
		where = append(where, "task_id = ?")
		args = append(args, *filter.TaskID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.SQL.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// FailRunningRuns marks runs still running that started before the cutoff
// as failed and returns how many were updated.
func (db *DB) FailRunningRuns(ctx context.Context, startedBefore time.Time, message string, at time.Time) (int64, error) {
	res, err := db.SQL.ExecContext(ctx, db.rebind(`
		UPDATE runs
		SET status = ?, message = ?, end_time = ?
		WHERE status = ? AND start_time < ?
	`), string(models.RunStatusFailed), message, db.ts(at),
		string(models.RunStatusRunning), db.ts(startedBefore))
	if err != nil {
		return 0, fmt.Errorf("fail running runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail running runs: %w", err)
	}
	return n, nil
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		r                  models.Run
		taskID             uuid.NullUUID
		status             string
		startTime, endTime dbTime
	)
	err := row.Scan(
		&r.ID, &r.RepositoryID, &taskID, &r.SourcePath, &startTime, &endTime, &status,
		&r.Message, &r.FilesNew, &r.FilesChanged, &r.BytesAdded, &r.SnapshotID,
	)
	if err != nil {
		return nil, err
	}

	if taskID.Valid {
		id := taskID.UUID
		r.TaskID = &id
	}
	r.Status = models.RunStatus(status)
	r.StartTime = startTime.Time
	r.EndTime = endTime.Ptr()
	return &r, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
