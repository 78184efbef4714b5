package testutil

import (
	"os"
	"testing"

	"github.com/onnwee/solarbot/db"
)

// NewStore returns a migrated in-memory SQLite store closed at test cleanup.
func NewStore(t *testing.T) *db.Store {
	t.Helper()
	return open(t, ":memory:")
}

// PostgresStore connects to TEST_PG_DSN and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func PostgresStore(t *testing.T) *db.Store {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	return open(t, dsn)
}

func open(t *testing.T, dsn string) *db.Store {
	t.Helper()
	store, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return store
}
