// Package testutil provides shared fixtures for integration tests.
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/slipdock/slipdock/internal/database"
)

// TestDB wraps a migrated test database backed by t.TempDir.
type TestDB struct {
	DB   *database.DB
	Conn *sql.DB
	Path string
}

// NewTestDB opens a database in a temp directory and runs all migrations.
// Cleanup is registered on t; no explicit Close is needed.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.New(dbPath)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	return &TestDB{DB: db, Conn: db.Conn(), Path: dbPath}
}

// NewTestLogger creates a logger that writes through t.Log.
func NewTestLogger(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// NopLogger returns a no-op logger for tests that don't need output.
func NopLogger() zerolog.Logger {
	return zerolog.Nop()
}
