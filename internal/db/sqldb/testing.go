package sqldb

import (
	"context"
	"path/filepath"
	"testing"
)

// OpenTest opens a migrated SQLite database in a per-test temp directory.
func OpenTest(t testing.TB) *DB {
	t.Helper()

	db, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "memex.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
