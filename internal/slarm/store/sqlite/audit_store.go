package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/slarm-iot/slarm/internal/db"
	"github.com/slarm-iot/slarm/internal/slarm/store"
)

type AuditStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAuditStore(db *sql.DB, writer *dbpkg.Worker) *AuditStore {
	return &AuditStore{db: db, writer: writer}
}

func (s *AuditStore) AppendAudit(ctx context.Context, rec store.AuditRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO audit_log(node, seq, at_ms, text) VALUES (?, ?, ?, ?);
`, rec.Node, int64(rec.Seq), rec.At.UTC().UnixMilli(), rec.Text); err != nil {
			return fmt.Errorf("AppendAudit insert: %w", err)
		}
		return nil
	})
}

func (s *AuditStore) RecentAudit(ctx context.Context, limit int) ([]store.AuditRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT node, seq, at_ms, text FROM audit_log ORDER BY id DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentAudit query: %w", err)
	}
	defer rows.Close()

	var out []store.AuditRecord
	for rows.Next() {
		var (
			rec  store.AuditRecord
			seq  int64
			atMs int64
		)
		if err := rows.Scan(&rec.Node, &seq, &atMs, &rec.Text); err != nil {
			return nil, fmt.Errorf("RecentAudit scan: %w", err)
		}
		rec.Seq = uint64(seq)
		rec.At = time.UnixMilli(atMs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
