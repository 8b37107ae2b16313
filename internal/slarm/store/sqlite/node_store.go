package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/slarm-iot/slarm/internal/db"
	"github.com/slarm-iot/slarm/internal/slarm/store"
)

type NodeStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewNodeStore(db *sql.DB, writer *dbpkg.Worker) *NodeStore {
	return &NodeStore{db: db, writer: writer}
}

func (s *NodeStore) IsKnown(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}

	var known int
	err := s.db.QueryRowContext(ctx, `
SELECT known FROM nodes WHERE name = ?;
`, name).Scan(&known)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("IsKnown query: %w", err)
	}
	return known == 1, nil
}

// MarkSeen creates the row if needed (unknown peers start uncommissioned)
// and bumps last_seen.
func (s *NodeStore) MarkSeen(ctx context.Context, name string, _ bool, t time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now().UTC()
	}
	ms := t.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureNode(ctx, tx, name, ms); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE nodes
SET last_seen_at_ms = ?,
    updated_at_ms   = ?
WHERE name = ?;
`, ms, ms, name); err != nil {
			return fmt.Errorf("MarkSeen update node: %w", err)
		}
		return nil
	})
}

func (s *NodeStore) ListNodes(ctx context.Context) ([]store.NodeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name, known, last_seen_at_ms FROM nodes ORDER BY name;
`)
	if err != nil {
		return nil, fmt.Errorf("ListNodes query: %w", err)
	}
	defer rows.Close()

	var out []store.NodeRecord
	for rows.Next() {
		var (
			rec   store.NodeRecord
			known int
			seen  sql.NullInt64
		)
		if err := rows.Scan(&rec.Name, &known, &seen); err != nil {
			return nil, fmt.Errorf("ListNodes scan: %w", err)
		}
		rec.Known = known == 1
		if seen.Valid {
			rec.LastSeen = time.UnixMilli(seen.Int64).UTC()
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
