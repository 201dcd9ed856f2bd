package storage

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// newTestDB opens a migrated database in a per-test temp directory.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestNewAndMigrate(t *testing.T) {
	db := newTestDB(t)

	// Migrate must be idempotent
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() second run error = %v", err)
	}

	// Foreign keys should be enabled
	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys;").Scan(&fk); err != nil {
		t.Fatalf("failed to query foreign_keys pragma: %v", err)
	}
	if fk != 1 {
		t.Error("foreign keys should be enabled")
	}
}

func TestNewInvalidPath(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing", "nested", "test.db")); err == nil {
		t.Error("New() expected error for unwritable path")
	}
}
