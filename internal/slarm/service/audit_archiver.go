package service

import (
	"context"
	"log"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/auditlog"
	"github.com/slarm-iot/slarm/internal/slarm/store"
)

// AuditArchiver copies audit ring entries into the audit store, so history
// survives ring eviction for the lifetime of the process.
type AuditArchiver struct {
	node   string
	store  store.AuditStore
	logger *log.Logger
}

func NewAuditArchiver(node string, s store.AuditStore, logger *log.Logger) *AuditArchiver {
	return &AuditArchiver{node: node, store: s, logger: logger}
}

// Record has the shape of state.Options.OnAudit.
func (a *AuditArchiver) Record(e auditlog.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := a.store.AppendAudit(ctx, store.AuditRecord{
		Node: a.node,
		Seq:  e.Seq,
		At:   e.At,
		Text: e.Text,
	})
	if err != nil {
		a.logger.Printf("audit archive: %v", err)
	}
}

func (a *AuditArchiver) Recent(ctx context.Context, limit int) ([]store.AuditRecord, error) {
	return a.store.RecentAudit(ctx, limit)
}
