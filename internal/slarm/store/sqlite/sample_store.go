package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/slarm-iot/slarm/internal/db"
	"github.com/slarm-iot/slarm/internal/slarm/store"
)

type SampleStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewSampleStore(db *sql.DB, writer *dbpkg.Worker) *SampleStore {
	return &SampleStore{db: db, writer: writer}
}

// AppendSamples writes the whole batch in one transaction.
func (s *SampleStore) AppendSamples(ctx context.Context, recs []store.SampleRecord) error {
	if len(recs) == 0 {
		return nil
	}
	now := time.Now().UTC()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
INSERT INTO samples(device, metric, value_text, value_num, at_ms)
VALUES (?, ?, ?, ?, ?);
`)
		if err != nil {
			return fmt.Errorf("AppendSamples prepare: %w", err)
		}
		defer stmt.Close()

		for _, r := range recs {
			at := r.At
			if at.IsZero() {
				at = now
			}
			if _, err := stmt.ExecContext(ctx, r.Device, r.Metric, r.Value, r.Float, at.UTC().UnixMilli()); err != nil {
				return fmt.Errorf("AppendSamples insert %s/%s: %w", r.Device, r.Metric, err)
			}
		}
		return nil
	})
}

func (s *SampleStore) History(ctx context.Context, device, metric string, limit int) ([]store.SampleRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT value_text, value_num, at_ms
FROM samples
WHERE device = ? AND metric = ?
ORDER BY at_ms DESC, id DESC
LIMIT ?;
`, device, metric, limit)
	if err != nil {
		return nil, fmt.Errorf("History query: %w", err)
	}
	defer rows.Close()

	var out []store.SampleRecord
	for rows.Next() {
		rec := store.SampleRecord{Device: device, Metric: metric}
		var atMs int64
		if err := rows.Scan(&rec.Value, &rec.Float, &atMs); err != nil {
			return nil, fmt.Errorf("History scan: %w", err)
		}
		rec.At = time.UnixMilli(atMs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes samples taken before cutoff and reports how many
// rows went.
func (s *SampleStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM samples WHERE at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
