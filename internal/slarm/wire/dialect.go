// Package wire implements the text framing used on both wireless hops.
//
// Three line formats exist: simple `type,value` lines on the door link, and
// the bracketed pair `[key,value]` and triple `[device,key,value]` dialects.
// One decoder serves all of them; a Dialect is a declarative table that maps
// wire keys to event constructors and back.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/slarm-iot/slarm/internal/slarm/event"
)

var (
	ErrUnsupported = errors.New("event not representable in dialect")
	ErrEmpty       = errors.New("event has nothing to encode")
)

// Format is the line shape a dialect emits.
type Format uint8

const (
	FormatSimple Format = iota + 1
	FormatPair
	FormatTriple
)

// ValueType controls how a value is rendered and parsed.
type ValueType uint8

const (
	// Bool01 is a boolean sent as '0'/'1'. On receipt any non-zero number
	// is true and unparseable text is false.
	Bool01 ValueType = iota + 1
	// Int is a decimal integer, kept as text.
	Int
	// Text is copied verbatim.
	Text
	// LockWord is "locked" or "unlocked"; any other word is dropped.
	LockWord
)

// Key names with special meaning in every table.
const (
	KeyECO2  = "eCO2"
	KeyETVOC = "eTVOC"
)

// Binding maps one wire key to one event kind.
type Binding struct {
	Key string
	// Device is the device token used when encoding triples, and the device
	// assigned to decoded samples when the line does not carry one.
	Device string
	Kind   event.Kind
	Type   ValueType
}

// Stats describes one decode pass.
type Stats struct {
	Groups  int // well-formed groups
	Skipped int // malformed groups
	Unknown int // well-formed groups with no binding or an invalid value
}

// Dialect is a decoder/encoder pair driven by a binding table.
type Dialect struct {
	name     string
	format   Format
	bindings []Binding
	byKey    map[string]Binding
}

// NewDialect builds a dialect. When two bindings produce the same event,
// the first one declared is used for encoding.
func NewDialect(name string, format Format, bindings ...Binding) *Dialect {
	d := &Dialect{
		name:     name,
		format:   format,
		bindings: bindings,
		byKey:    make(map[string]Binding, len(bindings)),
	}
	for _, b := range bindings {
		if _, dup := d.byKey[b.Key]; !dup {
			d.byKey[b.Key] = b
		}
	}
	return d
}

func (d *Dialect) Name() string   { return d.name }
func (d *Dialect) Format() Format { return d.format }

// Decode turns a raw line into events. It never fails: malformed groups,
// unknown keys and invalid values are dropped.
func (d *Dialect) Decode(line string) []event.Event {
	evs, _ := d.DecodeStats(line)
	return evs
}

// DecodeStats is Decode plus counters for the pass.
//
// All eCO2/eTVOC groups of one line fold into a single AirQuality event,
// placed where the first of them appeared.
func (d *Dialect) DecodeStats(line string) ([]event.Event, Stats) {
	var (
		groups []Group
		st     Stats
	)
	if d.format == FormatSimple {
		if g, ok := ScanSimple(line); ok {
			groups = []Group{g}
		} else if strings.TrimSpace(line) != "" {
			st.Skipped = 1
		}
	} else {
		groups, st.Skipped = Scan(line)
	}
	st.Groups = len(groups)

	var (
		out   []event.Event
		airAt = -1
		air   event.AirQuality
	)
	for _, g := range groups {
		b, ok := d.byKey[g.Key]
		if !ok {
			st.Unknown++
			continue
		}
		if b.Kind == event.KindAirQuality {
			r := event.Some(event.ParseFloat(g.Value))
			if strings.EqualFold(g.Key, KeyETVOC) {
				air.ETVOC = r
			} else {
				air.ECO2 = r
			}
			if airAt < 0 {
				airAt = len(out)
				out = append(out, nil)
			}
			continue
		}
		ev, ok := decodeGroup(b, g)
		if !ok {
			st.Unknown++
			continue
		}
		out = append(out, ev)
	}
	if airAt >= 0 {
		out[airAt] = air
	}
	return out, st
}

func decodeGroup(b Binding, g Group) (event.Event, bool) {
	switch b.Kind {
	case event.KindProximity:
		return event.ProximityChanged{Present: parseBool(g.Value)}, true
	case event.KindDoorOpen:
		return event.DoorOpenChanged{Open: parseBool(g.Value)}, true
	case event.KindPin:
		return event.PinEntered{PIN: g.Value}, true
	case event.KindFace:
		return event.Face(g.Value), true
	case event.KindAttempt:
		return event.AttemptMade{Active: parseBool(g.Value)}, true
	case event.KindLock:
		if b.Type == LockWord {
			switch strings.ToLower(g.Value) {
			case "locked":
				return event.LockChanged{Locked: true}, true
			case "unlocked":
				return event.LockChanged{Locked: false}, true
			default:
				return nil, false
			}
		}
		return event.LockChanged{Locked: parseBool(g.Value)}, true
	case event.KindSample:
		dev := g.Device
		if dev == "" {
			dev = b.Device
		}
		return event.SensorSample{Device: dev, Metric: b.Key, Text: g.Value}, true
	}
	return nil, false
}

func parseBool(v string) bool {
	return event.ParseFloat(v) != 0
}

// Encode renders ev as one line in this dialect. Fields longer than their
// capacity are truncated; in a multi-group line, trailing groups that would
// overflow LineCap are left out. A field holding a framing byte is rejected
// with ErrUnsupported.
func (d *Dialect) Encode(ev event.Event) (string, error) {
	if ev == nil {
		return "", ErrEmpty
	}

	var groups []Group
	switch e := ev.(type) {
	case event.AirQuality:
		if d.format == FormatSimple {
			return "", fmt.Errorf("%s: %w", e.Kind(), ErrUnsupported)
		}
		for _, slot := range []struct {
			key string
			r   event.Reading
		}{{KeyECO2, e.ECO2}, {KeyETVOC, e.ETVOC}} {
			if !slot.r.Valid {
				continue
			}
			b, ok := d.byKey[slot.key]
			if !ok || b.Kind != event.KindAirQuality {
				continue
			}
			groups = append(groups, Group{
				Device: b.Device,
				Key:    b.Key,
				Value:  strconv.FormatFloat(slot.r.Value, 'f', -1, 64),
			})
		}
		if len(groups) == 0 {
			return "", ErrEmpty
		}
	case event.SensorSample:
		b, ok := d.byKey[e.Metric]
		if !ok || b.Kind != event.KindSample {
			return "", fmt.Errorf("sample %q: %w", e.Metric, ErrUnsupported)
		}
		dev := e.Device
		if dev == "" {
			dev = b.Device
		}
		groups = []Group{{Device: dev, Key: b.Key, Value: e.Text}}
	default:
		b, ok := d.bindingFor(ev.Kind())
		if !ok {
			return "", fmt.Errorf("%s: %w", ev.Kind(), ErrUnsupported)
		}
		v, ok := encodeValue(b, ev)
		if !ok {
			return "", fmt.Errorf("%s: %w", ev.Kind(), ErrUnsupported)
		}
		groups = []Group{{Device: b.Device, Key: b.Key, Value: v}}
	}

	for _, g := range groups {
		if !Framable(g.Device) || !Framable(g.Key) || !Framable(g.Value) {
			return "", fmt.Errorf("%s %q: framing byte in field: %w", ev.Kind(), g.Key, ErrUnsupported)
		}
	}
	return d.render(groups), nil
}

func (d *Dialect) bindingFor(k event.Kind) (Binding, bool) {
	for _, b := range d.bindings {
		if b.Kind == k {
			return b, true
		}
	}
	return Binding{}, false
}

func encodeValue(b Binding, ev event.Event) (string, bool) {
	switch e := ev.(type) {
	case event.ProximityChanged:
		return bit(e.Present), true
	case event.DoorOpenChanged:
		return bit(e.Open), true
	case event.PinEntered:
		return e.PIN, true
	case event.FaceRecognition:
		return e.Name, true
	case event.AttemptMade:
		return bit(e.Active), true
	case event.LockChanged:
		if b.Type == LockWord {
			if e.Locked {
				return "locked", true
			}
			return "unlocked", true
		}
		return bit(e.Locked), true
	}
	return "", false
}

func bit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (d *Dialect) render(groups []Group) string {
	var sb strings.Builder
	for _, g := range groups {
		dev := Truncate(g.Device, DeviceCap)
		key := Truncate(g.Key, KeyCap)
		val := Truncate(g.Value, ValueCap)

		var part string
		switch d.format {
		case FormatSimple:
			part = key + "," + val
		case FormatPair:
			part = "[" + key + "," + val + "]"
		default:
			part = "[" + dev + "," + key + "," + val + "]"
		}
		if sb.Len() > 0 && sb.Len()+len(part) >= LineCap {
			break
		}
		sb.WriteString(part)
		if d.format == FormatSimple {
			break
		}
	}
	return sb.String()
}
