package state_test

import (
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slarm-iot/slarm/internal/slarm/auditlog"
	"github.com/slarm-iot/slarm/internal/slarm/event"
	"github.com/slarm-iot/slarm/internal/slarm/state"
	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

func newAggregator() *state.Aggregator {
	return state.NewAggregator(state.Options{Logger: log.New(io.Discard, "", 0)})
}

// ── Air quality ──────────────────────────────────────────────────────────────

func TestDeriveAirQuality(t *testing.T) {
	cases := []struct {
		eco2, etvoc event.Reading
		want        state.AirQualityLevel
	}{
		{event.Some(700), event.Some(50), state.AirGood},
		{event.Some(1000), event.Some(200), state.AirModerate},
		{event.Some(1500), event.Some(400), state.AirPoor},
		{event.Some(700), event.Some(400), state.AirPoor},
		{event.Some(799), event.Some(100), state.AirModerate},
		{event.Reading{}, event.Reading{}, state.AirUnknown},
		{event.Some(700), event.Reading{}, state.AirUnknown},
		{event.Reading{}, event.Some(50), state.AirUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, state.DeriveAirQuality(tc.eco2, tc.etvoc), "eco2=%v etvoc=%v", tc.eco2, tc.etvoc)
	}
}

func TestAirQuality_BufferedAcrossLines(t *testing.T) {
	a := newAggregator()

	res := a.ApplyLine(wire.Triple, "[CCS811,eCO2,700]")
	assert.Equal(t, state.AirUnknown, res.State.AirQuality)

	res = a.ApplyLine(wire.Triple, "[CCS811,eTVOC,50]")
	assert.Equal(t, state.AirGood, res.State.AirQuality)

	res = a.ApplyLine(wire.Triple, "[CCS811,eCO2,1500]")
	assert.Equal(t, state.AirModerate, res.State.AirQuality)
}

// ── Initial state ────────────────────────────────────────────────────────────

func TestInitialState_UsesSentinels(t *testing.T) {
	st := newAggregator().Snapshot()

	assert.Equal(t, state.FlagUnknown, st.Locked)
	assert.Equal(t, state.FlagUnknown, st.Open)
	assert.Equal(t, state.FlagUnknown, st.Motion)
	assert.Equal(t, state.FlagUnknown, st.FaceValidated)
	assert.Equal(t, state.FlagUnknown, st.PinValidated)
	assert.Equal(t, state.FlagUnknown, st.NewAttempt)
	assert.Equal(t, state.Unknown, st.FaceName)
	assert.Equal(t, state.Unknown, st.Temperature)
	assert.Equal(t, state.Unknown, st.Humidity)
	assert.Equal(t, state.AirUnknown, st.AirQuality)
	assert.Zero(t, st.Version)
}

// ── Folding ──────────────────────────────────────────────────────────────────

func TestFold_DoorStateCouplesFields(t *testing.T) {
	a := newAggregator()
	res := a.ApplyLine(wire.Triple, "[door_state,locked][person_present,1]")

	want := state.Initial()
	want.Locked = state.FlagTrue
	want.Open = state.FlagFalse
	want.PinValidated = state.FlagFalse
	want.Motion = state.FlagTrue

	opts := cmpopts.IgnoreFields(state.State{}, "Version", "UpdatedAt")
	if diff := cmp.Diff(want, res.State, opts); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, res.Applied)
	assert.True(t, res.Changed)
	assert.Empty(t, res.Audit)
}

func TestFold_EndToEndAttempt(t *testing.T) {
	var sunk []auditlog.Entry
	a := state.NewAggregator(state.Options{
		OnAudit: func(e auditlog.Entry) { sunk = append(sunk, e) },
	})

	res := a.ApplyLine(wire.Triple, "[person,Alice][door_state,unlocked][attempt,1]")
	st := res.State

	assert.Equal(t, "Alice", st.FaceName)
	assert.Equal(t, state.FlagTrue, st.FaceValidated)
	assert.Equal(t, state.FlagFalse, st.Locked)
	assert.Equal(t, state.FlagTrue, st.Open)
	assert.Equal(t, state.FlagTrue, st.PinValidated)
	assert.Equal(t, state.FlagTrue, st.NewAttempt)

	require.Len(t, res.Audit, 2)
	assert.Equal(t, "Alice: Face Validated, PIN Validated", res.Audit[0].Text)
	assert.Equal(t, "Door Opened", res.Audit[1].Text)
	assert.Equal(t, []string{"Alice: Face Validated, PIN Validated", "Door Opened"}, a.Audit().Lines())
	assert.Len(t, sunk, 2)
}

func TestFold_AuditUsesFinalStateOfPass(t *testing.T) {
	a := newAggregator()
	// The attempt flag comes first; the summary still reflects the lock
	// state decoded later in the same line.
	res := a.ApplyLine(wire.Triple, "[attempt,1][person,Unknown][door_state,locked]")

	require.Len(t, res.Audit, 2)
	assert.Equal(t, "Unknown: Face Rejected, PIN Invalid", res.Audit[0].Text)
	assert.Equal(t, "Door Closed", res.Audit[1].Text)
}

func TestFold_NoAuditWithoutActiveAttempt(t *testing.T) {
	a := newAggregator()
	res := a.ApplyLine(wire.Triple, "[person,Bob][attempt,0]")
	assert.Empty(t, res.Audit)
	assert.Equal(t, state.FlagFalse, res.State.NewAttempt)
	assert.Zero(t, a.Audit().Len())
}

func TestFold_OneAuditPairPerPass(t *testing.T) {
	a := newAggregator()
	res := a.ApplyLine(wire.Triple, "[attempt,1][attempt,1][attempt,1]")
	assert.Len(t, res.Audit, 2)
}

func TestFold_FaceValidation(t *testing.T) {
	a := newAggregator()
	assert.False(t, a.FaceSeen())

	a.ApplyLine(wire.Triple, "[camera,person,Unknown]")
	st := a.Snapshot()
	assert.True(t, a.FaceSeen())
	assert.Equal(t, state.FlagFalse, st.FaceValidated)

	a.ApplyLine(wire.Triple, "[camera,person,Carol]")
	assert.Equal(t, state.FlagTrue, a.Snapshot().FaceValidated)

	// A pass without a face update keeps the last verdict.
	a.ApplyLine(wire.Triple, "[DHT,Temp,21]")
	assert.Equal(t, state.FlagTrue, a.Snapshot().FaceValidated)
}

func TestFold_SamplesAndReadings(t *testing.T) {
	a := newAggregator()
	a.ApplyLine(wire.Triple, "[DHT,Temp,23.5][DHT,Hum,41][LPS22HB,Press,1013]")

	st := a.Snapshot()
	assert.Equal(t, "23.5", st.Temperature)
	assert.Equal(t, "41", st.Humidity)
	v, ok := st.Reading("LPS22HB", "Press")
	assert.True(t, ok)
	assert.Equal(t, "1013", v)
}

func TestFold_MalformedLineLeavesStateUntouched(t *testing.T) {
	a := newAggregator()
	res := a.ApplyLine(wire.Triple, "[door_state,locked")
	assert.Zero(t, res.Applied)
	assert.False(t, res.Changed)
	assert.Equal(t, state.FlagUnknown, a.Snapshot().Locked)
}

func TestFold_DuplicateLineDoesNotBumpVersion(t *testing.T) {
	a := newAggregator()
	first := a.ApplyLine(wire.Triple, "[door_state,locked]")
	second := a.ApplyLine(wire.Triple, "[door_state,locked]")

	assert.True(t, first.Changed)
	assert.False(t, second.Changed)
	assert.Equal(t, first.State.Version, second.State.Version)
}

func TestSnapshot_IsIsolated(t *testing.T) {
	a := newAggregator()
	a.ApplyLine(wire.Triple, "[LPS22HB,Press,1000]")

	snap := a.Snapshot()
	snap.Readings["LPS22HB/Press"] = "0"

	v, _ := a.Snapshot().Reading("LPS22HB", "Press")
	assert.Equal(t, "1000", v)
}

// ── Concurrency ──────────────────────────────────────────────────────────────

func TestFold_AtomicForReaders(t *testing.T) {
	a := newAggregator()
	a.ApplyLine(wire.Triple, "[door_state,locked][person_present,1]")

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		lines := []string{
			"[door_state,unlocked][person_present,0]",
			"[door_state,locked][person_present,1]",
		}
		for i := 0; i < 2000; i++ {
			a.ApplyLine(wire.Triple, lines[i%2])
		}
		close(done)
	}()

	for {
		st := a.Snapshot()
		require.Equal(t, st.Locked, st.Motion, "lock and motion from one line must move together")
		require.NotEqual(t, st.Locked, st.Open)
		require.Equal(t, st.Open, st.PinValidated)

		select {
		case <-done:
			wg.Wait()
			return
		default:
		}
	}
}

func TestFold_ConcurrentAttemptsKeepAuditPairsAdjacent(t *testing.T) {
	var (
		archMu   sync.Mutex
		archived []string
	)
	a := state.NewAggregator(state.Options{
		Audit:  auditlog.New(512),
		Logger: log.New(io.Discard, "", 0),
		OnAudit: func(e auditlog.Entry) {
			time.Sleep(50 * time.Microsecond)
			archMu.Lock()
			archived = append(archived, e.Text)
			archMu.Unlock()
		},
	})
	ch, cancel := a.Subscribe(1024)
	defer cancel()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			line := fmt.Sprintf("[person,P%d][door_state,unlocked][attempt,1]", g)
			for i := 0; i < 20; i++ {
				a.ApplyLine(wire.Triple, line)
			}
		}(g)
	}
	wg.Wait()

	assertPairs := func(lines []string) {
		t.Helper()
		require.Len(t, lines, 8*20*2)
		for i := 0; i < len(lines); i += 2 {
			assert.Regexp(t, `^P\d: Face Validated, PIN Validated$`, lines[i], "entry %d", i)
			assert.Equal(t, "Door Opened", lines[i+1], "entry %d", i+1)
		}
	}
	assertPairs(a.Audit().Lines())
	archMu.Lock()
	assertPairs(archived)
	archMu.Unlock()

	var last uint64
drain:
	for {
		select {
		case st := <-ch:
			require.GreaterOrEqual(t, st.Version, last, "snapshots out of order")
			last = st.Version
		default:
			break drain
		}
	}
	assert.Equal(t, a.Snapshot().Version, last)
}

func TestSubscribe_ReceivesChanges(t *testing.T) {
	a := newAggregator()
	ch, cancel := a.Subscribe(1)
	defer cancel()

	a.ApplyLine(wire.Triple, "[door_state,locked]")
	a.ApplyLine(wire.Triple, "[door_state,unlocked]")

	select {
	case st := <-ch:
		// The older snapshot was replaced by the newer one.
		assert.Equal(t, state.FlagFalse, st.Locked)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestFlag_Text(t *testing.T) {
	b, err := state.FlagTrue.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "true", string(b))
	assert.Equal(t, "unknown", state.FlagUnknown.String())
	assert.False(t, state.FlagUnknown.Known())
	assert.True(t, state.FlagOf(false).Known())
}
