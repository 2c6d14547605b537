package db

import (
	"context"
	"database/sql"
	"fmt"
)

// GetSettings returns all application settings.
func (db *DB) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := db.SQL.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return settings, nil
}

// SetSettings upserts the given settings in one transaction.
func (db *DB) SetSettings(ctx context.Context, settings map[string]string) error {
	return db.ExecTx(ctx, func(tx *sql.Tx) error {
		for key, value := range settings {
			_, err := tx.ExecContext(ctx, db.rebind(`
				INSERT INTO settings (key, value) VALUES (?, ?)
				ON CONFLICT (key) DO UPDATE SET value = excluded.value
			`), key, value)
			if err != nil {
				return fmt.Errorf("set setting %q: %w", key, err)
			}
		}
		return nil
	})
}
