package state

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/auditlog"
	"github.com/slarm-iot/slarm/internal/slarm/event"
	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

// Result describes one fold.
type Result struct {
	Applied int
	Changed bool
	Audit   []auditlog.Entry
	State   State
}

// Options configures an Aggregator.
type Options struct {
	// Audit receives the attempt summaries. Nil selects a ring of
	// auditlog.DefaultCapacity.
	Audit *auditlog.Ring
	// OnAudit is called for every appended entry, outside the state lock
	// but inside the pass, so it must not call back into the Aggregator.
	OnAudit func(auditlog.Entry)
	Logger  *log.Logger
	Now     func() time.Time
}

// Aggregator owns a node's System State. Apply folds one decode pass under
// a single lock, so readers see either the state before the pass or after
// it, never a mix. Passes are serialised end to end: an attempt's two audit
// lines stay adjacent and subscribers see snapshots in version order.
type Aggregator struct {
	passMu   sync.Mutex
	mu       sync.RWMutex
	st       State
	faceSeen bool

	audit   *auditlog.Ring
	onAudit func(auditlog.Entry)
	logger  *log.Logger
	now     func() time.Time

	subMu   sync.Mutex
	subs    map[int]chan State
	nextSub int
}

func NewAggregator(opts Options) *Aggregator {
	a := &Aggregator{
		st:      Initial(),
		audit:   opts.Audit,
		onAudit: opts.OnAudit,
		logger:  opts.Logger,
		now:     opts.Now,
		subs:    make(map[int]chan State),
	}
	if a.audit == nil {
		a.audit = auditlog.New(auditlog.DefaultCapacity)
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	return a
}

// Audit exposes the ring the aggregator appends to.
func (a *Aggregator) Audit() *auditlog.Ring { return a.audit }

// Snapshot returns a copy of the current state.
func (a *Aggregator) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.st.Clone()
}

// ApplyLine decodes line with d and folds the result.
func (a *Aggregator) ApplyLine(d *wire.Dialect, line string) Result {
	return a.Apply(d.Decode(line)...)
}

// Apply folds the events of one decode pass. When the pass carries an
// active attempt, two audit lines are appended after every event has been
// applied, describing the resulting state.
func (a *Aggregator) Apply(evs ...event.Event) Result {
	if len(evs) == 0 {
		return Result{State: a.Snapshot()}
	}

	a.passMu.Lock()
	defer a.passMu.Unlock()

	a.mu.Lock()
	var (
		applied int
		changed bool
		attempt bool
	)
	for _, ev := range evs {
		ok, c := a.fold(ev)
		if !ok {
			continue
		}
		applied++
		changed = changed || c
		if at, isAttempt := ev.(event.AttemptMade); isAttempt && at.Active {
			attempt = true
		}
	}

	var lines []string
	if attempt {
		lines = attemptSummary(a.st)
	}
	if changed {
		a.st.Version++
		a.st.UpdatedAt = a.now()
	}
	snap := a.st.Clone()
	a.mu.Unlock()

	res := Result{Applied: applied, Changed: changed, State: snap}
	for _, l := range lines {
		e := a.audit.Append(l)
		res.Audit = append(res.Audit, e)
		if a.onAudit != nil {
			a.onAudit(e)
		}
	}
	if changed || len(res.Audit) > 0 {
		a.publish(snap)
	}
	return res
}

// fold applies one event. ok is false for events the aggregator does not
// track; changed reports whether any field moved.
func (a *Aggregator) fold(ev event.Event) (ok, changed bool) {
	st := &a.st
	switch e := ev.(type) {
	case event.LockChanged:
		l := FlagOf(e.Locked)
		u := FlagOf(!e.Locked)
		changed = setFlag(&st.Locked, l)
		changed = setFlag(&st.Open, u) || changed
		changed = setFlag(&st.PinValidated, u) || changed
	case event.DoorOpenChanged:
		changed = setFlag(&st.Open, FlagOf(e.Open))
	case event.ProximityChanged:
		changed = setFlag(&st.Motion, FlagOf(e.Present))
	case event.AttemptMade:
		changed = setFlag(&st.NewAttempt, FlagOf(e.Active))
	case event.FaceRecognition:
		name := wire.Truncate(e.Name, wire.ValueCap)
		a.faceSeen = true
		changed = setString(&st.FaceName, name)
		changed = setFlag(&st.FaceValidated, FlagOf(event.FaceValidated(name))) || changed
	case event.AirQuality:
		if e.ECO2.Valid {
			changed = st.ECO2 != e.ECO2
			st.ECO2 = e.ECO2
		}
		if e.ETVOC.Valid {
			changed = st.ETVOC != e.ETVOC || changed
			st.ETVOC = e.ETVOC
		}
		changed = setLevel(&st.AirQuality, DeriveAirQuality(st.ECO2, st.ETVOC)) || changed
	case event.SensorSample:
		text := wire.Truncate(e.Text, wire.ValueCap)
		switch strings.ToLower(e.Metric) {
		case "temp":
			changed = setString(&st.Temperature, text)
		case "hum":
			changed = setString(&st.Humidity, text)
		default:
			key := ReadingKey(e.Device, e.Metric)
			if st.Readings == nil {
				st.Readings = map[string]string{}
			}
			prev, had := st.Readings[key]
			st.Readings[key] = text
			changed = !had || prev != text
		}
	default:
		return false, false
	}
	return true, changed
}

// attemptSummary renders the two audit lines for an unlock attempt.
// Unknown flags read as the negative wording.
func attemptSummary(st State) []string {
	face := "Face Rejected"
	if st.FaceValidated.True() {
		face = "Face Validated"
	}
	pin := "PIN Invalid"
	if st.PinValidated.True() {
		pin = "PIN Validated"
	}
	door := "Closed"
	if st.Open.True() {
		door = "Opened"
	}
	return []string{
		fmt.Sprintf("%s: %s, %s", st.FaceName, face, pin),
		fmt.Sprintf("Door %s", door),
	}
}

// FaceSeen reports whether any face update has been received.
func (a *Aggregator) FaceSeen() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.faceSeen
}

// Subscribe returns a channel that receives a snapshot after every fold
// that changed the state. A slow subscriber loses its oldest pending
// snapshot rather than blocking the fold. Call cancel to unsubscribe.
func (a *Aggregator) Subscribe(buffer int) (<-chan State, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan State, buffer)

	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = ch
	a.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.subMu.Lock()
			delete(a.subs, id)
			a.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (a *Aggregator) publish(snap State) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
			if a.logger != nil {
				a.logger.Printf("state subscriber full, snapshot v%d dropped", snap.Version)
			}
		}
	}
}

func setFlag(dst *Flag, v Flag) bool {
	if *dst == v {
		return false
	}
	*dst = v
	return true
}

func setString(dst *string, v string) bool {
	if *dst == v {
		return false
	}
	*dst = v
	return true
}

func setLevel(dst *AirQualityLevel, v AirQualityLevel) bool {
	if *dst == v {
		return false
	}
	*dst = v
	return true
}
