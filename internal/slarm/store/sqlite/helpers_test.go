package sqlite_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/slarm-iot/slarm/internal/db"
)

// openTestDB returns a private in-memory database with production PRAGMAs
// and migrations applied. It is closed when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Shared-cache memory databases are keyed by name; one per test keeps
	// them isolated.
	name := "test_" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())

	conn, err := db.Open(context.Background(), db.Config{Path: db.MemoryPath, Name: name})
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestWriter returns a db.Worker backed by conn, closed on cleanup.
func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}
