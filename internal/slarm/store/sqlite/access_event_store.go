package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/slarm-iot/slarm/internal/db"
	"github.com/slarm-iot/slarm/internal/slarm/store"
)

type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer}
}

func (s *AccessEventStore) RecordEvent(ctx context.Context, rec store.AccessEventRecord) error {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}

	receivedMs := rec.ReceivedAt.UTC().UnixMilli()
	decidedMs := rec.DecidedAt.UTC().UnixMilli()

	var requestedMs any
	if rec.RequestedAt != nil {
		requestedMs = rec.RequestedAt.UTC().UnixMilli()
	}

	var present any
	if rec.Present != nil {
		present = boolInt(*rec.Present)
	}

	var pinHash any
	if len(rec.PINHash) == 32 {
		pinHash = rec.PINHash
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureNode(ctx, tx, rec.Node, receivedMs); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(
  node, received_at_ms, requested_at_ms, present,
  pin_hash, decision_granted, decision_reason, decided_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.Node, receivedMs, requestedMs, present,
			pinHash, boolInt(rec.Granted), rec.Reason, decidedMs,
		); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}

// ListEvents returns up to limit decisions, newest first.
func (s *AccessEventStore) ListEvents(ctx context.Context, limit int) ([]store.AccessEventRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT node, received_at_ms, requested_at_ms, present, pin_hash,
       decision_granted, decision_reason, decided_at_ms
FROM access_events
ORDER BY id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListEvents query: %w", err)
	}
	defer rows.Close()

	var out []store.AccessEventRecord
	for rows.Next() {
		var (
			rec         store.AccessEventRecord
			receivedMs  int64
			requestedMs sql.NullInt64
			present     sql.NullInt64
			granted     int
			decidedMs   int64
		)
		if err := rows.Scan(&rec.Node, &receivedMs, &requestedMs, &present, &rec.PINHash,
			&granted, &rec.Reason, &decidedMs); err != nil {
			return nil, fmt.Errorf("ListEvents scan: %w", err)
		}
		rec.ReceivedAt = time.UnixMilli(receivedMs).UTC()
		rec.DecidedAt = time.UnixMilli(decidedMs).UTC()
		if requestedMs.Valid {
			t := time.UnixMilli(requestedMs.Int64).UTC()
			rec.RequestedAt = &t
		}
		if present.Valid {
			p := present.Int64 == 1
			rec.Present = &p
		}
		rec.Granted = granted == 1
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
