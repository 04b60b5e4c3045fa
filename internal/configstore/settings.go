package configstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/openrunner/openrunner/internal/apperr"
	"github.com/openrunner/openrunner/internal/db"
)

// GetSettings returns every key/value pair in the application-settings
// table (spec.md section 4.1).
func (s *Store) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, apperr.Storage("list settings", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.Storage("scan setting", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("iterate settings", err)
	}
	return out, nil
}

// UpdateSettings upserts every key/value pair in updates.
func (s *Store) UpdateSettings(ctx context.Context, updates map[string]string) error {
	return s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		for k, v := range updates {
			if _, err := tx.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
				return apperr.Storage("upsert setting", err)
			}
		}
		return nil
	})
}

// GetSetting returns a single setting's value, or ("", false) if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Storage("get setting", err)
	}
	return v, true, nil
}
