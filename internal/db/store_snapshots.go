package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
)

const snapshotColumns = `id, repository_id, snapshot_id, snapshot_time, hostname, paths, tags, size`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateSnapshot inserts a snapshot record.
func (db *DB) CreateSnapshot(ctx context.Context, snap *models.Snapshot) error {
	if err := db.insertSnapshot(ctx, db.SQL, snap); err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	return nil
}

// GetSnapshot returns a snapshot record by its row ID.
func (db *DB) GetSnapshot(ctx context.Context, id uuid.UUID) (*models.Snapshot, error) {
	row := db.SQL.QueryRowContext(ctx, db.rebind(`
		SELECT `+snapshotColumns+`
		FROM snapshots
		WHERE id = ?
	`), id)

	snap, err := scanSnapshot(row)
	if err != nil {
		return nil, notFound(err, "get snapshot")
	}
	return snap, nil
}

// ListSnapshots returns a repository's snapshots newest first.
func (db *DB) ListSnapshots(ctx context.Context, repositoryID uuid.UUID) ([]*models.Snapshot, error) {
	rows, err := db.SQL.QueryContext(ctx, db.rebind(`
		SELECT `+snapshotColumns+`
		FROM snapshots
		WHERE repository_id = ?
		ORDER BY snapshot_time DESC
	`), repositoryID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

// DeleteSnapshot removes a snapshot record.
func (db *DB) DeleteSnapshot(ctx context.Context, id uuid.UUID) error {
	res, err := db.SQL.ExecContext(ctx, db.rebind("DELETE FROM snapshots WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return requireAffected(res, "delete snapshot")
}

// ReplaceSnapshots deletes every snapshot record of a repository and
// inserts snaps in their place, in one transaction.
func (db *DB) ReplaceSnapshots(ctx context.Context, repositoryID uuid.UUID, snaps []*models.Snapshot) error {
	return db.ExecTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, db.rebind("DELETE FROM snapshots WHERE repository_id = ?"), repositoryID); err != nil {
			return fmt.Errorf("clear snapshots: %w", err)
		}
		for _, snap := range snaps {
			snap.RepositoryID = repositoryID
			if err := db.insertSnapshot(ctx, tx, snap); err != nil {
				return fmt.Errorf("insert snapshot %s: %w", snap.SnapshotID, err)
			}
		}
		return nil
	})
}

func (db *DB) insertSnapshot(ctx context.Context, ex execer, snap *models.Snapshot) error {
	paths, err := encodeStrings(snap.Paths)
	if err != nil {
		return fmt.Errorf("encode paths: %w", err)
	}
	tags, err := encodeStrings(snap.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	_, err = ex.ExecContext(ctx, db.rebind(`
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), snap.ID, snap.RepositoryID, snap.SnapshotID, db.ts(snap.Time), snap.Hostname,
		paths, tags, snap.Size)
	return err
}

func scanSnapshot(row rowScanner) (*models.Snapshot, error) {
	var (
		s           models.Snapshot
		at          dbTime
		paths, tags string
	)
	if err := row.Scan(&s.ID, &s.RepositoryID, &s.SnapshotID, &at, &s.Hostname, &paths, &tags, &s.Size); err != nil {
		return nil, err
	}

	s.Time = at.Time
	var err error
	if s.Paths, err = decodeStrings(paths); err != nil {
		return nil, fmt.Errorf("decode paths: %w", err)
	}
	if s.Tags, err = decodeStrings(tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &s, nil
}
