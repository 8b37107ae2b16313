package grpcapi_test

import (
	"context"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/slarm-iot/slarm/internal/grpcapi"
	"github.com/slarm-iot/slarm/internal/slarm/actuator"
	"github.com/slarm-iot/slarm/internal/slarm/console"
	"github.com/slarm-iot/slarm/internal/slarm/service"
	"github.com/slarm-iot/slarm/internal/slarm/state"
	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

type nopPWM struct{}

func (nopPWM) Set(time.Duration, time.Duration) error { return nil }

// newTestClient starts the service on an in-process listener and returns a
// client connected to it.
func newTestClient(t *testing.T, agg *state.Aggregator, lock actuator.Lock) *grpcapi.Client {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	srv := grpcapi.NewServer(grpcapi.Dependencies{
		Logger:  logger,
		Status:  service.NewStatusService(service.StatusConfig{Node: "base", Role: "base", State: agg}),
		Console: console.New(agg, lock, agg.Audit()),
	})

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return grpcapi.NewClient(conn)
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ── GetStatus ────────────────────────────────────────────────────────────────

func TestGetStatus(t *testing.T) {
	agg := state.NewAggregator(state.Options{})
	agg.ApplyLine(wire.Triple, "[door_state,unlocked][DHT,Hum,41]")
	c := newTestClient(t, agg, nil)

	msg, err := c.GetStatus(testCtx(t))
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	f := msg.GetFields()
	if got := f["locked"].GetStringValue(); got != "false" {
		t.Errorf("expected locked=false, got %q", got)
	}
	if got := f["open"].GetStringValue(); got != "true" {
		t.Errorf("expected open=true, got %q", got)
	}
	if got := f["humidity"].GetStringValue(); got != "41" {
		t.Errorf("expected humidity 41, got %q", got)
	}
	if got := f["node"].GetStringValue(); got != "base" {
		t.Errorf("expected node base, got %q", got)
	}
}

// ── Exec ─────────────────────────────────────────────────────────────────────

func TestExec_ErrorCodes(t *testing.T) {
	agg := state.NewAggregator(state.Options{})
	c := newTestClient(t, agg, nil)
	ctx := testCtx(t)

	cases := []struct {
		cmd  string
		code codes.Code
	}{
		{"door", codes.InvalidArgument},
		{"door open", codes.InvalidArgument},
		{"reboot", codes.NotFound},
		{"door lock", codes.PermissionDenied},
	}
	for _, tc := range cases {
		_, err := c.Exec(ctx, tc.cmd)
		if got := status.Code(err); got != tc.code {
			t.Errorf("%q: expected %s, got %s (%v)", tc.cmd, tc.code, got, err)
		}
	}
}

func TestExec_DoorUnlock(t *testing.T) {
	agg := state.NewAggregator(state.Options{})
	servo := actuator.NewServo(nopPWM{}, log.New(io.Discard, "", 0), nil)
	c := newTestClient(t, agg, servo)

	out, err := c.Exec(testCtx(t), "door unlock")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if out != "Door is now unlocked" {
		t.Errorf("unexpected output %q", out)
	}
	if locked, known := servo.Locked(); !known || locked {
		t.Errorf("expected servo unlocked, got locked=%v known=%v", locked, known)
	}
}

// ── ListAudit ────────────────────────────────────────────────────────────────

func TestListAudit(t *testing.T) {
	agg := state.NewAggregator(state.Options{})
	agg.ApplyLine(wire.Triple, "[person,Unknown][attempt,1]")
	c := newTestClient(t, agg, nil)

	msg, err := c.ListAudit(testCtx(t), 0)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	entries := msg.GetFields()["entries"].GetListValue().GetValues()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first := entries[0].GetStructValue().GetFields()["text"].GetStringValue()
	if first != "Unknown: Face Rejected, PIN Invalid" {
		t.Errorf("unexpected first entry %q", first)
	}
	second := entries[1].GetStructValue().GetFields()["text"].GetStringValue()
	if second != "Door Closed" {
		t.Errorf("unexpected second entry %q", second)
	}
}
