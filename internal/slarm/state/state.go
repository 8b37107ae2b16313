// Package state holds the System State record and the aggregator that folds
// decoded events into it.
package state

import (
	"maps"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/event"
)

// Unknown is the sentinel for string fields that have not been received yet.
const Unknown = "Unknown"

// Flag is a boolean with an explicit unknown state. The zero value is
// FlagUnknown, so a zero State never claims a valid false.
type Flag uint8

const (
	FlagUnknown Flag = iota
	FlagFalse
	FlagTrue
)

// FlagOf converts a received boolean.
func FlagOf(v bool) Flag {
	if v {
		return FlagTrue
	}
	return FlagFalse
}

// True reports whether the flag is known and set.
func (f Flag) True() bool { return f == FlagTrue }

// Known reports whether a value has been received.
func (f Flag) Known() bool { return f != FlagUnknown }

func (f Flag) String() string {
	switch f {
	case FlagTrue:
		return "true"
	case FlagFalse:
		return "false"
	default:
		return "unknown"
	}
}

func (f Flag) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// AirQualityLevel is the derived air-quality category.
type AirQualityLevel string

const (
	AirGood     AirQualityLevel = "Good"
	AirModerate AirQualityLevel = "Moderate"
	AirPoor     AirQualityLevel = "Poor"
	AirUnknown  AirQualityLevel = Unknown
)

// DeriveAirQuality maps the two raw CCS811 readings to a category. Either
// reading missing yields AirUnknown.
func DeriveAirQuality(eco2, etvoc event.Reading) AirQualityLevel {
	if !eco2.Valid || !etvoc.Valid {
		return AirUnknown
	}
	switch {
	case eco2.Value < 800 && etvoc.Value < 100:
		return AirGood
	case eco2.Value < 1200 && etvoc.Value < 300:
		return AirModerate
	default:
		return AirPoor
	}
}

// State is the last-writer-wins projection of the event stream on one node.
// Every field is overwritten independently, so a snapshot may combine stale
// and fresh values.
type State struct {
	Locked        Flag
	Open          Flag
	Motion        Flag
	FaceName      string
	FaceValidated Flag
	// PinValidated follows the lock: it is set from door_state, never from
	// a PIN comparison on this node.
	PinValidated Flag
	NewAttempt   Flag

	Temperature string
	Humidity    string
	AirQuality  AirQualityLevel
	ECO2        event.Reading
	ETVOC       event.Reading

	// Readings holds every other sample, keyed "device/metric".
	Readings map[string]string

	Version   uint64
	UpdatedAt time.Time
}

// Initial is the state a node starts with.
func Initial() State {
	return State{
		FaceName:    Unknown,
		Temperature: Unknown,
		Humidity:    Unknown,
		AirQuality:  AirUnknown,
		Readings:    map[string]string{},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	s.Readings = maps.Clone(s.Readings)
	if s.Readings == nil {
		s.Readings = map[string]string{}
	}
	return s
}

// Reading returns a stored sample by device and metric.
func (s State) Reading(device, metric string) (string, bool) {
	v, ok := s.Readings[ReadingKey(device, metric)]
	return v, ok
}

// ReadingKey is the Readings map key for a sample.
func ReadingKey(device, metric string) string {
	return device + "/" + metric
}
