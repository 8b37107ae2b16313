package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/slarm-iot/slarm/internal/httpapi"
	"github.com/slarm-iot/slarm/internal/slarm/actuator"
	"github.com/slarm-iot/slarm/internal/slarm/console"
	"github.com/slarm-iot/slarm/internal/slarm/service"
	"github.com/slarm-iot/slarm/internal/slarm/state"
	"github.com/slarm-iot/slarm/internal/slarm/store/memory"
	"github.com/slarm-iot/slarm/internal/slarm/types"
	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

type nopPWM struct{}

func (nopPWM) Set(time.Duration, time.Duration) error { return nil }

type testNode struct {
	ts  *httptest.Server
	agg *state.Aggregator
}

// newTestServer wires up the full dependency graph using in-memory stores
// and returns an httptest.Server whose URL can be hit with a plain
// http.Client. withLock gives the node a servo, as on the door node.
func newTestServer(t *testing.T, withLock bool) *testNode {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	agg := state.NewAggregator(state.Options{})
	samples := memory.NewSampleStore()

	var lock actuator.Lock
	var access *service.AccessService
	if withLock {
		servo := actuator.NewServo(nopPWM{}, logger, nil)
		lock = servo
		access = service.NewAccessService("door", service.AccessPolicy{PIN: "65896"},
			servo, memory.NewAccessEventStore(), nil, logger)
		t.Cleanup(access.Stop)
	}

	receiver := service.NewReceiver(service.ReceiverConfig{
		State:   agg,
		Dialect: wire.Triple,
		Samples: service.NewSampleRecorder(samples, nil, time.Hour, logger),
		Logger:  logger,
	})

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger: logger,
		Addr:   ":0",
		Status: service.NewStatusService(service.StatusConfig{
			Node: "admin", Role: "admin", State: agg, Samples: samples,
		}),
		Console:       console.New(agg, lock, agg.Audit()),
		Receiver:      receiver,
		AccessService: access,
		Gatherer:      prometheus.NewRegistry(),
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testNode{ts: ts, agg: agg}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ── Status ───────────────────────────────────────────────────────────────────

func TestStatus_JSON(t *testing.T) {
	n := newTestServer(t, false)
	n.agg.ApplyLine(wire.Triple, "[door_state,locked][person_present,1]")

	resp, err := http.Get(n.ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var st types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Locked != "true" || st.Open != "false" || st.Motion != "true" || st.PinValidated != "false" {
		t.Errorf("unexpected status %+v", st)
	}
	if st.Temperature != "Unknown" {
		t.Errorf("expected Unknown temperature, got %q", st.Temperature)
	}
}

func TestStatus_Protobuf(t *testing.T) {
	n := newTestServer(t, false)
	n.agg.ApplyLine(wire.Triple, "[DHT,Temp,21.5]")

	req, _ := http.NewRequest(http.MethodGet, n.ts.URL+"/v1/status", nil)
	req.Header.Set("Accept", "application/x-protobuf")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("expected protobuf content type, got %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)

	var msg structpb.Struct
	if err := proto.Unmarshal(body, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := msg.GetFields()["temperature"].GetStringValue(); got != "21.5" {
		t.Errorf("expected temperature 21.5, got %q", got)
	}
}

// ── Ingest ───────────────────────────────────────────────────────────────────

func TestIngest_EndToEndAttempt(t *testing.T) {
	n := newTestServer(t, false)

	resp := postJSON(t, n.ts.URL+"/v1/ingest", `{"node":"camera","line":"[person,Alice][door_state,unlocked][attempt,1]"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var ir types.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ir.Events != 3 || len(ir.Audit) != 2 {
		t.Errorf("unexpected ingest response %+v", ir)
	}

	audit, err := http.Get(n.ts.URL + "/v1/audit?limit=5")
	if err != nil {
		t.Fatalf("get audit: %v", err)
	}
	defer audit.Body.Close()
	var ar types.AuditResponse
	if err := json.NewDecoder(audit.Body).Decode(&ar); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(ar.Entries) != 2 || ar.Entries[0].Text != "Alice: Face Validated, PIN Validated" || ar.Entries[1].Text != "Door Opened" {
		t.Errorf("unexpected audit %+v", ar.Entries)
	}
}

func TestIngest_Protobuf(t *testing.T) {
	n := newTestServer(t, false)

	msg, _ := structpb.NewStruct(map[string]any{"node": "base", "line": "[CCS811,eCO2,650][CCS811,eTVOC,50]"})
	body, _ := proto.Marshal(msg)

	resp, err := http.Post(n.ts.URL+"/v1/ingest", "application/x-protobuf", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := n.agg.Snapshot().AirQuality; got != state.AirGood {
		t.Errorf("expected Good air, got %q", got)
	}
}

func TestIngest_MissingNode_400(t *testing.T) {
	n := newTestServer(t, false)

	resp := postJSON(t, n.ts.URL+"/v1/ingest", `{"line":"[attempt,1]"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestIngest_InvalidJSON_400(t *testing.T) {
	n := newTestServer(t, false)

	resp := postJSON(t, n.ts.URL+"/v1/ingest", `not json at all`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// ── History ──────────────────────────────────────────────────────────────────

func TestHistory_RequiresSeries(t *testing.T) {
	n := newTestServer(t, false)

	resp, err := http.Get(n.ts.URL + "/v1/history?device=DHT")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(n.ts.URL + "/v1/history?device=DHT&metric=Temp&limit=-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative limit, got %d", resp2.StatusCode)
	}
}

// ── Console ──────────────────────────────────────────────────────────────────

func TestConsole_DoorWithoutActuator_403(t *testing.T) {
	n := newTestServer(t, false)

	resp := postJSON(t, n.ts.URL+"/v1/console", `{"command":"door lock"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestConsole_DoorLockUnlock(t *testing.T) {
	n := newTestServer(t, true)

	resp := postJSON(t, n.ts.URL+"/v1/console", `{"command":"door lock"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var cr types.ConsoleResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cr.Output != "Door is now locked" {
		t.Errorf("unexpected output %q", cr.Output)
	}

	again := postJSON(t, n.ts.URL+"/v1/console", `{"command":"door lock"}`)
	var cr2 types.ConsoleResponse
	_ = json.NewDecoder(again.Body).Decode(&cr2)
	if cr2.Output != "Door is already locked" {
		t.Errorf("unexpected output %q", cr2.Output)
	}
}

func TestConsole_UsageAndUnknown(t *testing.T) {
	n := newTestServer(t, true)

	if resp := postJSON(t, n.ts.URL+"/v1/console", `{"command":"door"}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for usage error, got %d", resp.StatusCode)
	}
	if resp := postJSON(t, n.ts.URL+"/v1/console", `{"command":"reboot"}`); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown command, got %d", resp.StatusCode)
	}
}

// ── Access Request ───────────────────────────────────────────────────────────

func TestAccessRequest_OnlyOnLockNode(t *testing.T) {
	n := newTestServer(t, false)
	if resp := postJSON(t, n.ts.URL+"/v1/access_request", `{"pin":"65896"}`); resp.StatusCode != http.StatusMethodNotAllowed && resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected the route to be absent, got %d", resp.StatusCode)
	}

	door := newTestServer(t, true)
	resp := postJSON(t, door.ts.URL+"/v1/access_request", `{"pin":"65896"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var ar types.AccessResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ar.Granted {
		t.Errorf("expected grant, got %+v", ar)
	}

	if resp := postJSON(t, door.ts.URL+"/v1/access_request", `{"pin":""}`); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for empty pin, got %d", resp.StatusCode)
	}
}

// ── Stream / metrics ─────────────────────────────────────────────────────────

func TestStream_PushesChanges(t *testing.T) {
	n := newTestServer(t, false)

	url := "ws" + strings.TrimPrefix(n.ts.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first types.StatusResponse
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if first.Locked != "unknown" {
		t.Errorf("expected unknown lock initially, got %q", first.Locked)
	}

	n.agg.ApplyLine(wire.Triple, "[door_state,locked]")

	var next types.StatusResponse
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Locked != "true" {
		t.Errorf("expected locked=true, got %q", next.Locked)
	}
}

func TestMetrics_Served(t *testing.T) {
	n := newTestServer(t, false)

	resp, err := http.Get(n.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
