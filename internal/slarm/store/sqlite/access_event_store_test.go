package sqlite_test

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"testing"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/store"
	sqlitestore "github.com/slarm-iot/slarm/internal/slarm/store/sqlite"
)

// ═══════════════════════════════════════════════════════════════════════════
// RecordEvent: basic insert
// ═══════════════════════════════════════════════════════════════════════════

func TestAccessEventStore_RecordEvent_InsertsRowAndNode(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	as := sqlitestore.NewAccessEventStore(conn, w)

	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	present := true
	hash := sha256.Sum256([]byte("65896"))

	err := as.RecordEvent(context.Background(), store.AccessEventRecord{
		Node:       "door",
		ReceivedAt: now,
		Present:    &present,
		PINHash:    hash[:],
		Granted:    true,
		Reason:     "pin_ok",
		DecidedAt:  now.Add(5 * time.Millisecond),
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM access_events WHERE node = ?`, "door").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 access_event row, got %d", count)
	}

	// The referenced node row is created but not commissioned.
	var known int
	if err := conn.QueryRow(`SELECT known FROM nodes WHERE name = ?`, "door").Scan(&known); err != nil {
		t.Fatalf("node row: %v", err)
	}
	if known != 0 {
		t.Errorf("expected auto-created node to be unknown, got known=%d", known)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// RecordEvent: nullable fields
// ═══════════════════════════════════════════════════════════════════════════

func TestAccessEventStore_RecordEvent_NullOptionalFields(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	as := sqlitestore.NewAccessEventStore(conn, w)

	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

	// No RequestedAt, no Present, and a hash of the wrong size.
	err := as.RecordEvent(context.Background(), store.AccessEventRecord{
		Node:       "door",
		ReceivedAt: now,
		PINHash:    []byte{1, 2, 3},
		Granted:    false,
		Reason:     "pin_mismatch",
		DecidedAt:  now,
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	var (
		requestedMs sql.NullInt64
		present     sql.NullInt64
		pinHash     []byte
	)
	err = conn.QueryRow(`
SELECT requested_at_ms, present, pin_hash FROM access_events WHERE node = ?`, "door",
	).Scan(&requestedMs, &present, &pinHash)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if requestedMs.Valid {
		t.Error("expected requested_at_ms to be NULL")
	}
	if present.Valid {
		t.Error("expected present to be NULL")
	}
	if pinHash != nil {
		t.Error("expected pin_hash to be NULL")
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// ListEvents: newest first, round-trips columns
// ═══════════════════════════════════════════════════════════════════════════

func TestAccessEventStore_ListEvents(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	as := sqlitestore.NewAccessEventStore(conn, w)
	ctx := context.Background()

	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	reqAt := now.Add(-100 * time.Millisecond)
	absent := false

	for i, reason := range []string{"pin_mismatch", "no_presence", "pin_ok"} {
		rec := store.AccessEventRecord{
			Node:       "door",
			ReceivedAt: now.Add(time.Duration(i) * time.Second),
			Granted:    reason == "pin_ok",
			Reason:     reason,
			DecidedAt:  now.Add(time.Duration(i) * time.Second),
		}
		if i == 1 {
			rec.RequestedAt = &reqAt
			rec.Present = &absent
		}
		if err := as.RecordEvent(ctx, rec); err != nil {
			t.Fatalf("RecordEvent %d: %v", i, err)
		}
	}

	evs, err := as.ListEvents(ctx, 2)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	if evs[0].Reason != "pin_ok" || !evs[0].Granted {
		t.Errorf("expected newest event first, got %+v", evs[0])
	}
	if evs[1].RequestedAt == nil || !evs[1].RequestedAt.Equal(reqAt) {
		t.Errorf("expected requested_at %v, got %v", reqAt, evs[1].RequestedAt)
	}
	if evs[1].Present == nil || *evs[1].Present {
		t.Errorf("expected present=false, got %v", evs[1].Present)
	}

	all, err := as.ListEvents(ctx, 0)
	if err != nil {
		t.Fatalf("ListEvents all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 rows (append-only), got %d", len(all))
	}
}
