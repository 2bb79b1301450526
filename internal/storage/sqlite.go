package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SQLiteKV keeps slots in the local_storage table.
type SQLiteKV struct {
	db *sql.DB
}

func NewSQLiteKV(db *sql.DB) *SQLiteKV {
	return &SQLiteKV{db: db}
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("storage key is required")
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM local_storage WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get slot %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("storage key is required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO local_storage(key, value, updated_at)
VALUES(?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at
`, key, value)
	if err != nil {
		return fmt.Errorf("set slot %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM local_storage WHERE key = ?`, strings.TrimSpace(key)); err != nil {
		return fmt.Errorf("delete slot %q: %w", key, err)
	}
	return nil
}

var _ KV = (*SQLiteKV)(nil)
