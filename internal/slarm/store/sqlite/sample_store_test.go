package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/store"
	sqlitestore "github.com/slarm-iot/slarm/internal/slarm/store/sqlite"
)

// ═══════════════════════════════════════════════════════════════════════════
// AppendSamples / History
// ═══════════════════════════════════════════════════════════════════════════

func TestSampleStore_AppendAndHistory(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ss := sqlitestore.NewSampleStore(conn, w)
	ctx := context.Background()

	base := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	batch := []store.SampleRecord{
		{Device: "DHT", Metric: "Temp", Value: "20.5", Float: 20.5, At: base},
		{Device: "DHT", Metric: "Temp", Value: "21", Float: 21, At: base.Add(time.Second)},
		{Device: "DHT", Metric: "Hum", Value: "40", Float: 40, At: base},
	}
	if err := ss.AppendSamples(ctx, batch); err != nil {
		t.Fatalf("AppendSamples: %v", err)
	}

	hist, err := ss.History(ctx, "DHT", "Temp", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 Temp samples, got %d", len(hist))
	}
	if hist[0].Value != "21" || !hist[0].At.Equal(base.Add(time.Second)) {
		t.Errorf("expected newest sample first, got %+v", hist[0])
	}
}

func TestSampleStore_AppendEmptyBatchIsNoop(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ss := sqlitestore.NewSampleStore(conn, w)

	if err := ss.AppendSamples(context.Background(), nil); err != nil {
		t.Fatalf("AppendSamples(nil): %v", err)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// PruneOlderThan
// ═══════════════════════════════════════════════════════════════════════════

func TestSampleStore_PruneOlderThan(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ss := sqlitestore.NewSampleStore(conn, w)
	ctx := context.Background()

	base := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	var batch []store.SampleRecord
	for i := 0; i < 5; i++ {
		batch = append(batch, store.SampleRecord{
			Device: "door", Metric: "ultrasonic_s", Value: "42", Float: 42,
			At: base.Add(time.Duration(i) * time.Hour),
		})
	}
	if err := ss.AppendSamples(ctx, batch); err != nil {
		t.Fatalf("AppendSamples: %v", err)
	}

	deleted, err := ss.PruneOlderThan(ctx, base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan: %v", err)
	}
	if deleted != 3 {
		t.Errorf("expected 3 rows deleted, got %d", deleted)
	}

	var remaining int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM samples`).Scan(&remaining); err != nil {
		t.Fatalf("count: %v", err)
	}
	if remaining != 2 {
		t.Errorf("expected 2 rows remaining, got %d", remaining)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// NodeStore / AuditStore
// ═══════════════════════════════════════════════════════════════════════════

func TestNodeStore_SeededPeerIsKnown(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ns := sqlitestore.NewNodeStore(conn, w)
	ctx := context.Background()

	if _, err := conn.Exec(`
INSERT INTO nodes(name, known, created_at_ms, updated_at_ms) VALUES ('base', 1, 0, 0);`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	known, err := ns.IsKnown(ctx, "base")
	if err != nil || !known {
		t.Fatalf("expected base known, got %v err=%v", known, err)
	}

	seen := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	if err := ns.MarkSeen(ctx, "intruder", false, seen); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	known, _ = ns.IsKnown(ctx, "intruder")
	if known {
		t.Error("a peer that was only seen must not become known")
	}

	nodes, err := ns.ListNodes(ctx)
	if err != nil {
		t.Fatalf("ListNodes: %v", err)
	}
	if len(nodes) != 2 || nodes[1].Name != "intruder" || !nodes[1].LastSeen.Equal(seen) {
		t.Errorf("unexpected node list: %+v", nodes)
	}
}

func TestAuditStore_AppendAndRecent(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	as := sqlitestore.NewAuditStore(conn, w)
	ctx := context.Background()

	lines := []string{"Alice: Face Validated, PIN Validated", "Door Opened"}
	for i, l := range lines {
		if err := as.AppendAudit(ctx, store.AuditRecord{Node: "admin", Seq: uint64(i + 1), Text: l}); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	recs, err := as.RecentAudit(ctx, 1)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(recs) != 1 || recs[0].Text != "Door Opened" || recs[0].Seq != 2 {
		t.Errorf("unexpected recent audit: %+v", recs)
	}
}
