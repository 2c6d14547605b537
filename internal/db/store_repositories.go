package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/MacJediWizard/resticron/internal/models"
	"github.com/google/uuid"
)

const repositoryColumns = `id, name, type, location, password, rest_username, rest_password,
	s3_access_key_id, s3_secret_access_key, s3_region, status, last_check, created_at, updated_at`

// CreateRepository inserts a repository. A name collision returns ErrDuplicateName.
func (db *DB) CreateRepository(ctx context.Context, repo *models.Repository) error {
	password, restPassword, s3Secret, err := db.sealRepositorySecrets(repo)
	if err != nil {
		return err
	}

	_, err = db.SQL.ExecContext(ctx, db.rebind(`
		INSERT INTO repositories (`+repositoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), repo.ID, repo.Name, string(repo.Type), repo.Location, password,
		repo.RestUsername, restPassword, repo.S3AccessKeyID, s3Secret, repo.S3Region,
		string(repo.Status), db.tsPtr(repo.LastCheck), db.ts(repo.CreatedAt), db.ts(repo.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create repository %q: %w", repo.Name, ErrDuplicateName)
		}
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

// GetRepository returns a repository by ID.
func (db *DB) GetRepository(ctx context.Context, id uuid.UUID) (*models.Repository, error) {
	row := db.SQL.QueryRowContext(ctx, db.rebind(`
		SELECT `+repositoryColumns+`
		FROM repositories
		WHERE id = ?
	`), id)

	repo, err := db.scanRepository(row)
	if err != nil {
		return nil, notFound(err, "get repository")
	}
	return repo, nil
}

// GetRepositoryByName returns a repository by its unique name.
func (db *DB) GetRepositoryByName(ctx context.Context, name string) (*models.Repository, error) {
	row := db.SQL.QueryRowContext(ctx, db.rebind(`
		SELECT `+repositoryColumns+`
		FROM repositories
		WHERE name = ?
	`), name)

	repo, err := db.scanRepository(row)
	if err != nil {
		return nil, notFound(err, "get repository by name")
	}
	return repo, nil
}

// ListRepositories returns all repositories ordered by name.
func (db *DB) ListRepositories(ctx context.Context) ([]*models.Repository, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT `+repositoryColumns+`
		FROM repositories
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		repo, err := db.scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}
	return repos, nil
}

// UpdateRepository updates an existing repository.
func (db *DB) UpdateRepository(ctx context.Context, repo *models.Repository) error {
	password, restPassword, s3Secret, err := db.sealRepositorySecrets(repo)
	if err != nil {
		return err
	}

	repo.UpdatedAt = time.Now().UTC()
	res, err := db.SQL.ExecContext(ctx, db.rebind(`
		UPDATE repositories
		SET name = ?, location = ?, password = ?, rest_username = ?, rest_password = ?,
			s3_access_key_id = ?, s3_secret_access_key = ?, s3_region = ?,
			status = ?, last_check = ?, updated_at = ?
		WHERE id = ?
	`), repo.Name, repo.Location, password, repo.RestUsername, restPassword,
		repo.S3AccessKeyID, s3Secret, repo.S3Region,
		string(repo.Status), db.tsPtr(repo.LastCheck), db.ts(repo.UpdatedAt), repo.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update repository %q: %w", repo.Name, ErrDuplicateName)
		}
		return fmt.Errorf("update repository: %w", err)
	}
	return requireAffected(res, "update repository")
}

// DeleteRepository removes a repository with its snapshots, runs and tasks
// in one transaction.
func (db *DB) DeleteRepository(ctx context.Context, id uuid.UUID) error {
	return db.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"snapshots", "runs", "scheduled_tasks"} {
			if _, err := tx.ExecContext(ctx, db.rebind("DELETE FROM "+table+" WHERE repository_id = ?"), id); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}

		res, err := tx.ExecContext(ctx, db.rebind("DELETE FROM repositories WHERE id = ?"), id)
		if err != nil {
			return fmt.Errorf("delete repository: %w", err)
		}
		return requireAffected(res, "delete repository")
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanRepository(row rowScanner) (*models.Repository, error) {
	var (
		r                  models.Repository
		typeStr, statusStr string
		lastCheck          dbTime
		createdAt          dbTime
		updatedAt          dbTime
	)
	err := row.Scan(
		&r.ID, &r.Name, &typeStr, &r.Location, &r.Password, &r.RestUsername, &r.RestPassword,
		&r.S3AccessKeyID, &r.S3SecretAccessKey, &r.S3Region, &statusStr, &lastCheck,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Type = models.RepositoryType(typeStr)
	r.Status = models.RepositoryStatus(statusStr)
	r.LastCheck = lastCheck.Ptr()
	r.CreatedAt = createdAt.Time
	r.UpdatedAt = updatedAt.Time

	if err := db.openRepositorySecrets(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *DB) sealRepositorySecrets(repo *models.Repository) (password, restPassword, s3Secret string, err error) {
	if db.secrets == nil {
		return repo.Password, repo.RestPassword, repo.S3SecretAccessKey, nil
	}
	if password, err = db.secrets.Seal(repo.Password); err != nil {
		return "", "", "", fmt.Errorf("encrypt repository password: %w", err)
	}
	if restPassword, err = db.secrets.Seal(repo.RestPassword); err != nil {
		return "", "", "", fmt.Errorf("encrypt rest password: %w", err)
	}
	if s3Secret, err = db.secrets.Seal(repo.S3SecretAccessKey); err != nil {
		return "", "", "", fmt.Errorf("encrypt s3 secret: %w", err)
	}
	return password, restPassword, s3Secret, nil
}

func (db *DB) openRepositorySecrets(repo *models.Repository) error {
	if db.secrets == nil {
		return nil
	}
	var err error
	if repo.Password, err = db.secrets.Open(repo.Password); err != nil {
		return fmt.Errorf("decrypt repository password: %w", err)
	}
	if repo.RestPassword, err = db.secrets.Open(repo.RestPassword); err != nil {
		return fmt.Errorf("decrypt rest password: %w", err)
	}
	if repo.S3SecretAccessKey, err = db.secrets.Open(repo.S3SecretAccessKey); err != nil {
		return fmt.Errorf("decrypt s3 secret: %w", err)
	}
	return nil
}
