package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/auditlog"
	"github.com/slarm-iot/slarm/internal/slarm/event"
	"github.com/slarm-iot/slarm/internal/slarm/fusion"
	"github.com/slarm-iot/slarm/internal/slarm/link"
	"github.com/slarm-iot/slarm/internal/slarm/service"
	"github.com/slarm-iot/slarm/internal/slarm/state"
	"github.com/slarm-iot/slarm/internal/slarm/store"
	"github.com/slarm-iot/slarm/internal/slarm/store/memory"
	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

// ── SamplePruner ─────────────────────────────────────────────────────────────

func TestSamplePruner_DisabledWhenRetentionZero(t *testing.T) {
	pruner := service.NewSamplePruner(memory.NewSampleStore(), service.PrunerConfig{
		Interval: time.Hour,
	}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pruner.Start(ctx)
	// Stop should return immediately without error.
	pruner.Stop()
}

func TestSamplePruner_PrunesOnStart(t *testing.T) {
	ss := memory.NewSampleStore()
	ctx := context.Background()

	now := time.Now().UTC()
	err := ss.AppendSamples(ctx, []store.SampleRecord{
		{Device: "DHT", Metric: "Temp", Value: "20", At: now.Add(-2 * time.Hour)},
		{Device: "DHT", Metric: "Temp", Value: "21", At: now.Add(-time.Minute)},
	})
	if err != nil {
		t.Fatalf("AppendSamples: %v", err)
	}

	pruner := service.NewSamplePruner(ss, service.PrunerConfig{
		Retention: time.Hour,
		Interval:  time.Hour,
	}, silentLogger())
	pruner.Start(ctx)
	defer pruner.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hist, _ := ss.History(ctx, "DHT", "Temp", 0)
		if len(hist) == 1 {
			if hist[0].Value != "21" {
				t.Errorf("expected the recent sample to survive, got %+v", hist[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("old sample was never pruned")
}

func TestSamplePruner_StopIsIdempotent(t *testing.T) {
	pruner := service.NewSamplePruner(memory.NewSampleStore(), service.PrunerConfig{
		Retention: time.Hour,
		Interval:  time.Hour,
	}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	pruner.Start(ctx)

	cancel()
	pruner.Stop()
	pruner.Stop()
}

// ── SampleRecorder ───────────────────────────────────────────────────────────

func TestSampleRecorder_FlagsAnomalies(t *testing.T) {
	ss := memory.NewSampleStore()
	rec := service.NewSampleRecorder(ss, fusion.NewDetector(0, 0, 0), time.Hour, silentLogger())
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		rec.Add("DHT", "Temp", "20", at)
	}
	rec.Add("DHT", "Temp", "35", at)
	rec.Add("DHT", "Temp", "warm", at) // not numeric, stored but not filtered
	if err := rec.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	hist, _ := ss.History(ctx, "DHT", "Temp", 0)
	if len(hist) != 22 {
		t.Errorf("expected 22 Temp samples, got %d", len(hist))
	}
	anomalies, _ := ss.History(ctx, "DHT", "Temp"+fusion.AnomalySuffix, 0)
	if len(anomalies) != 1 || anomalies[0].Value != "35" {
		t.Errorf("expected one anomaly at 35, got %+v", anomalies)
	}
}

func TestSampleRecorder_ReadingsAndStopFlushes(t *testing.T) {
	ss := memory.NewSampleStore()
	rec := service.NewSampleRecorder(ss, nil, time.Hour, silentLogger())
	ctx := context.Background()

	rec.AddReading("CCS811", "eCO2", event.Some(650), time.Time{})
	rec.AddReading("CCS811", "eTVOC", event.Reading{}, time.Time{})
	if rec.Buffered() != 1 {
		t.Fatalf("expected only the valid reading buffered, got %d", rec.Buffered())
	}

	rec.Start(ctx)
	rec.Stop()
	rec.Stop()

	hist, _ := ss.History(ctx, "CCS811", "eCO2", 0)
	if len(hist) != 1 || hist[0].Value != "650" {
		t.Errorf("expected final flush on stop, got %+v", hist)
	}
}

type failingSamples struct{ memory.SampleStore }

func (*failingSamples) AppendSamples(context.Context, []store.SampleRecord) error {
	return errors.New("disk full")
}

func TestSampleRecorder_FlushFailureDropsBatch(t *testing.T) {
	rec := service.NewSampleRecorder(&failingSamples{}, nil, time.Hour, silentLogger())
	rec.Add("DHT", "Hum", "40", time.Now())

	if err := rec.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}
	if rec.Buffered() != 0 {
		t.Error("failed batch must not be retried")
	}
}

// ── PeerRegistry / AuditArchiver ─────────────────────────────────────────────

func TestPeerRegistry_Admit(t *testing.T) {
	ns := memory.NewNodeStore([]string{"door"})
	reg := service.NewPeerRegistry(ns, false)

	if err := reg.Admit("door"); err != nil {
		t.Errorf("expected door admitted, got %v", err)
	}
	err := reg.Admit("mallory")
	if !errors.Is(err, link.ErrRejected) {
		t.Errorf("expected ErrRejected, got %v", err)
	}

	nodes, _ := reg.List(context.Background())
	if len(nodes) != 2 {
		t.Errorf("expected both peers noted as seen, got %+v", nodes)
	}

	open := service.NewPeerRegistry(memory.NewNodeStore(nil), true)
	if err := open.Admit("anyone"); err != nil {
		t.Errorf("open registry should admit everyone, got %v", err)
	}
}

func TestAuditArchiver_Record(t *testing.T) {
	as := memory.NewAuditStore()
	arch := service.NewAuditArchiver("admin", as, silentLogger())
	ring := auditlog.New(2)

	for _, l := range []string{"a", "b", "c"} {
		arch.Record(ring.Append(l))
	}
	if ring.Len() != 2 {
		t.Fatalf("ring should hold 2, got %d", ring.Len())
	}

	recs, err := arch.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 3 || recs[0].Text != "c" || recs[2].Node != "admin" {
		t.Errorf("archive should keep evicted entries, got %+v", recs)
	}
}

// ── StatusService ────────────────────────────────────────────────────────────

func TestStatusService_StatusAndAudit(t *testing.T) {
	arch := service.NewAuditArchiver("admin", memory.NewAuditStore(), silentLogger())
	agg := state.NewAggregator(state.Options{OnAudit: arch.Record})
	svc := service.NewStatusService(service.StatusConfig{
		Node:    "admin",
		Role:    "admin",
		State:   agg,
		Peer:    func() string { return "base" },
		Archive: arch,
	})

	st := svc.Status()
	if st.Locked != "unknown" || st.FaceName != "Unknown" || st.AirQuality != "Unknown" || st.Peer != "base" {
		t.Errorf("unexpected initial status %+v", st)
	}

	for i := 0; i < 4; i++ {
		agg.ApplyLine(wire.Triple, "[person,Alice][door_state,unlocked][attempt,1]")
	}

	st = svc.Status()
	if st.Locked != "false" || st.FaceValidated != "true" || st.Version == 0 || st.UpdatedAt == "" {
		t.Errorf("unexpected status %+v", st)
	}

	ctx := context.Background()
	ring, _ := svc.Audit(ctx, 0)
	if len(ring.Entries) != 5 {
		t.Errorf("expected a full ring of 5, got %d", len(ring.Entries))
	}
	last2, _ := svc.Audit(ctx, 2)
	if len(last2.Entries) != 2 || last2.Entries[1].Text != "Door Opened" {
		t.Errorf("unexpected tail %+v", last2.Entries)
	}
	archived, _ := svc.Audit(ctx, 100)
	if len(archived.Entries) != 8 {
		t.Errorf("expected all 8 archived lines, got %d", len(archived.Entries))
	}
}
