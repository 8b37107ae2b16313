// Package event defines the typed updates that travel between nodes.
//
// An Event is produced by a sensor loop (or by decoding a wire line) and is
// owned by whoever holds it: the queue from enqueue until dequeue, then the
// consumer. Events are plain values, so "release" is simply dropping the
// reference.
package event

import (
	"math"
	"strconv"
	"strings"
)

// Kind identifies the concrete variant of an Event.
type Kind uint8

const (
	KindProximity Kind = iota + 1
	KindDoorOpen
	KindPin
	KindSample
	KindFace
	KindAirQuality
	KindLock
	KindAttempt
)

func (k Kind) String() string {
	switch k {
	case KindProximity:
		return "proximity"
	case KindDoorOpen:
		return "door_open"
	case KindPin:
		return "pin"
	case KindSample:
		return "sample"
	case KindFace:
		return "face"
	case KindAirQuality:
		return "air_quality"
	case KindLock:
		return "lock"
	case KindAttempt:
		return "attempt"
	default:
		return "unknown"
	}
}

// Event is implemented by every variant below.
type Event interface {
	Kind() Kind
}

// UnknownName is the face-recognition sentinel for an unrecognised person.
const UnknownName = "Unknown"

// PinLength is the number of digits in a keypad PIN.
const PinLength = 5

// ProximityChanged reports that someone entered or left the sensor range.
// On the aggregated side it drives the motion flag.
type ProximityChanged struct {
	Present bool
}

// DoorOpenChanged reports a door position change from the magnetometer.
type DoorOpenChanged struct {
	Open bool
}

// PinEntered carries a complete keypad PIN.
type PinEntered struct {
	PIN string
}

// SensorSample is a raw reading. Text is the value exactly as produced or
// received; Float gives the best-effort numeric interpretation.
type SensorSample struct {
	Device string
	Metric string
	Text   string
}

// FaceRecognition is the latest camera verdict.
type FaceRecognition struct {
	Name      string
	Validated bool
}

// AirQuality carries the two raw readings the air-quality category is
// derived from. Either may be absent.
type AirQuality struct {
	ECO2  Reading
	ETVOC Reading
}

// LockChanged reports the lock actuator position.
type LockChanged struct {
	Locked bool
}

// AttemptMade flags that an unlock attempt happened.
type AttemptMade struct {
	Active bool
}

func (ProximityChanged) Kind() Kind { return KindProximity }
func (DoorOpenChanged) Kind() Kind  { return KindDoorOpen }
func (PinEntered) Kind() Kind       { return KindPin }
func (SensorSample) Kind() Kind     { return KindSample }
func (FaceRecognition) Kind() Kind  { return KindFace }
func (AirQuality) Kind() Kind       { return KindAirQuality }
func (LockChanged) Kind() Kind      { return KindLock }
func (AttemptMade) Kind() Kind      { return KindAttempt }

// Reading is an optional float.
type Reading struct {
	Value float64
	Valid bool
}

// Some returns a present reading.
func Some(v float64) Reading { return Reading{Value: v, Valid: true} }

// IntSample builds a sample whose text is the decimal form of v.
func IntSample(device, metric string, v int) SensorSample {
	return SensorSample{Device: device, Metric: metric, Text: strconv.Itoa(v)}
}

// Float parses the sample text. Invalid text yields 0.
func (s SensorSample) Float() float64 {
	return ParseFloat(s.Text)
}

// ParseFloat is the lossy numeric conversion used for every numeric field on
// the wire: surrounding space is ignored and anything unparseable or
// non-finite is 0.
func ParseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// FaceValidated reports whether a received face name counts as a
// recognised person.
func FaceValidated(name string) bool {
	return name != "" && name != UnknownName
}

// Face builds a FaceRecognition with the validation derived from the name.
func Face(name string) FaceRecognition {
	return FaceRecognition{Name: name, Validated: FaceValidated(name)}
}
