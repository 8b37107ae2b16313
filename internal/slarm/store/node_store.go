package store

import (
	"context"
	"time"
)

type NodeRecord struct {
	Name     string
	Known    bool
	LastSeen time.Time
}

// NodeStore tracks the peers a node has heard from and which of them are
// commissioned.
type NodeStore interface {
	IsKnown(ctx context.Context, name string) (bool, error)
	MarkSeen(ctx context.Context, name string, known bool, t time.Time) error
	ListNodes(ctx context.Context) ([]NodeRecord, error)
}
