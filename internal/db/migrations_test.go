package db_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/macrobox/macrobox-cli/internal/db"
)

func TestApplyMigrationsIdempotent(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "macrobox.db")
	sqldb, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer sqldb.Close()

	if err := db.ApplyMigrations(sqldb); err != nil {
		t.Fatalf("first apply migrations: %v", err)
	}
	if err := db.ApplyMigrations(sqldb); err != nil {
		t.Fatalf("second apply migrations: %v", err)
	}

	var migrationCount int
	if err := sqldb.QueryRow(`SELECT COUNT(1) FROM schema_migrations`).Scan(&migrationCount); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if migrationCount != 3 {
		t.Fatalf("expected 3 migration versions, got %d", migrationCount)
	}

	for _, table := range []string{"local_storage", "app_config", "checkout_attempts"} {
		var n int
		if err := sqldb.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n); err != nil {
			t.Fatalf("check %s table: %v", table, err)
		}
		if n != 1 {
			t.Fatalf("expected %s table to exist", table)
		}
	}

	var idx int
	if err := sqldb.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type = 'index' AND name = 'idx_checkout_attempts_status'`).Scan(&idx); err != nil {
		t.Fatalf("check attempts index: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected idx_checkout_attempts_status index to exist")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected db file to exist: %v", err)
	}
}

func TestCheckoutAttemptStatusConstraint(t *testing.T) {
	t.Parallel()

	sqldb, err := db.Open(filepath.Join(t.TempDir(), "macrobox.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer sqldb.Close()
	if err := db.ApplyMigrations(sqldb); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	_, err = sqldb.Exec(`INSERT INTO checkout_attempts(id, status, created_at, updated_at) VALUES('a1', 'bogus', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Fatalf("expected unknown attempt status to be rejected")
	}
}
