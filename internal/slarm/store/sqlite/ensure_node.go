package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// ensureNode guarantees a nodes row exists so that access_events can
// reference it. New rows start unknown; only SeedNodes commissions a peer.
//
// Must be called inside an existing transaction.
func ensureNode(ctx context.Context, tx *sql.Tx, name string, nowMs int64) error {
	if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO nodes(name, known, created_at_ms, updated_at_ms)
VALUES (?, 0, ?, ?);
`, name, nowMs, nowMs); err != nil {
		return fmt.Errorf("ensureNode %s: %w", name, err)
	}
	return nil
}
