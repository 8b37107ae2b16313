package db_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/slarm-iot/slarm/internal/db"
)

func TestOpen_FileCreatesDirAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "slarm.db")

	conn, err := db.Open(context.Background(), db.Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("schema_migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 applied migration, got %d", n)
	}

	// Running migrations again is a no-op.
	if err := db.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSeedNodes_Idempotent(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Name: "seed_nodes"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		if err := db.SeedNodes(ctx, conn, []string{"base", " door ", ""}); err != nil {
			t.Fatalf("SeedNodes: %v", err)
		}
	}

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM nodes WHERE known = 1`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 known nodes, got %d", n)
	}
}

func TestWorker_RollsBackOnErrorAndRejectsAfterClose(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Name: "worker_rollback"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	w := db.NewWorker(conn)
	boom := errors.New("boom")

	err = w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO nodes(name, known, created_at_ms, updated_at_ms) VALUES ('ghost', 0, 0, 0);`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("expected rollback to leave 0 rows, got %d", n)
	}

	w.Close()
	w.Close()
	err = w.Do(ctx, func(context.Context, *sql.Tx) error { return nil })
	if !errors.Is(err, db.ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}
