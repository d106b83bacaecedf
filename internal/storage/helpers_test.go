package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestSQLite opens a fresh file-backed SQLite adapter with the schema
// applied. The file lives in t.TempDir so every test starts empty.
func newTestSQLite(t *testing.T) *Adapter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	a, err := Open(context.Background(), Config{Backend: SQLite, DSN: path}, testLogger())
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	if err := a.InitializeSchema(context.Background()); err != nil {
		t.Fatalf("InitializeSchema() error = %v", err)
	}
	return a
}
