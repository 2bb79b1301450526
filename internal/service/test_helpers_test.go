package service_test

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/macrobox/macrobox-cli/internal/db"
)

func newTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "macrobox.db")
	sqldb, err := db.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(sqldb); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	return sqldb, path
}
