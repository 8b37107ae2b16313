package store

import (
	"context"
	"time"
)

// SampleRecord is one timestamped sensor reading kept in the history.
type SampleRecord struct {
	Device string
	Metric string
	Value  string
	Float  float64
	At     time.Time
}

// SampleStore keeps recent sample history. Writes arrive in batches.
type SampleStore interface {
	AppendSamples(ctx context.Context, recs []SampleRecord) error
	History(ctx context.Context, device, metric string, limit int) ([]SampleRecord, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditRecord mirrors one audit ring entry.
type AuditRecord struct {
	Node string
	Seq  uint64
	At   time.Time
	Text string
}

// AuditStore archives audit lines beyond the on-screen ring.
type AuditStore interface {
	AppendAudit(ctx context.Context, rec AuditRecord) error
	RecentAudit(ctx context.Context, limit int) ([]AuditRecord, error)
}
