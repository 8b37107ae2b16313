package store

import (
	"context"
	"time"
)

// AccessEventRecord captures a single PIN decision. The PIN itself is never
// stored; PINHash is its SHA-256.
type AccessEventRecord struct {
	Node        string
	ReceivedAt  time.Time
	RequestedAt *time.Time // optional client timestamp
	Present     *bool
	PINHash     []byte
	Granted     bool
	Reason      string
	DecidedAt   time.Time
}

// AccessEventStore persists access decisions as an append-only log.
type AccessEventStore interface {
	RecordEvent(ctx context.Context, rec AccessEventRecord) error
	ListEvents(ctx context.Context, limit int) ([]AccessEventRecord, error)
}
