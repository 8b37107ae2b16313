package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SeedNodes commissions the given peer names. Existing rows are marked
// known; last-seen times are left alone.
func SeedNodes(ctx context.Context, db *sql.DB, names []string) error {
	now := time.Now().UTC().UnixMilli()

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, `
INSERT INTO nodes(name, known, created_at_ms, updated_at_ms)
VALUES (?, 1, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  known = 1,
  updated_at_ms = excluded.updated_at_ms;
`, name, now, now); err != nil {
			return fmt.Errorf("seed node %s: %w", name, err)
		}
	}
	return nil
}
