package wire

import (
	"strings"

	"github.com/slarm-iot/slarm/internal/slarm/event"
)

// Simple is spoken by the door node on hop 1, e.g. `ultrasonic,1`,
// `magnetometer,0`, `pin,22366`, `ultrasonic_s,42`.
var Simple = NewDialect("simple", FormatSimple,
	Binding{Key: "ultrasonic", Device: "door", Kind: event.KindProximity, Type: Bool01},
	Binding{Key: "magnetometer", Device: "door", Kind: event.KindDoorOpen, Type: Bool01},
	Binding{Key: "pin", Device: "door", Kind: event.KindPin, Type: Text},
	Binding{Key: "lock", Device: "door", Kind: event.KindLock, Type: Bool01},
	Binding{Key: "attempt", Device: "door", Kind: event.KindAttempt, Type: Bool01},
	Binding{Key: "ultrasonic_s", Device: "door", Kind: event.KindSample, Type: Int},
	Binding{Key: "magnetometer_s", Device: "door", Kind: event.KindSample, Type: Int},
)

// Pair is the bracketed key/value dialect, e.g. `[open,1][locked,0][temp,23.5]`.
var Pair = NewDialect("pair", FormatPair,
	Binding{Key: "open", Device: "door", Kind: event.KindDoorOpen, Type: Bool01},
	Binding{Key: "locked", Device: "door", Kind: event.KindLock, Type: Bool01},
	Binding{Key: "motion", Device: "door", Kind: event.KindProximity, Type: Bool01},
	Binding{Key: "attempt", Device: "door", Kind: event.KindAttempt, Type: Bool01},
	Binding{Key: "pin", Device: "door", Kind: event.KindPin, Type: Text},
	Binding{Key: "person", Device: "camera", Kind: event.KindFace, Type: Text},
	Binding{Key: "temp", Device: "DHT", Kind: event.KindSample, Type: Text},
	Binding{Key: "hum", Device: "DHT", Kind: event.KindSample, Type: Text},
	Binding{Key: "ultrasonic_s", Device: "door", Kind: event.KindSample, Type: Int},
	Binding{Key: "magnetometer_s", Device: "door", Kind: event.KindSample, Type: Int},
	Binding{Key: KeyECO2, Device: "CCS811", Kind: event.KindAirQuality, Type: Text},
	Binding{Key: KeyETVOC, Device: "CCS811", Kind: event.KindAirQuality, Type: Text},
)

// Triple is the bracketed device/key/value dialect used on the broker hop,
// e.g. `[DHT,Temp,23.5][CCS811,eCO2,650]`. Two-token groups are accepted on
// receipt as well.
var Triple = NewDialect("triple", FormatTriple,
	Binding{Key: "door_state", Device: "door", Kind: event.KindLock, Type: LockWord},
	Binding{Key: "person_present", Device: "camera", Kind: event.KindProximity, Type: Bool01},
	Binding{Key: "attempt", Device: "door", Kind: event.KindAttempt, Type: Bool01},
	Binding{Key: "person", Device: "camera", Kind: event.KindFace, Type: Text},
	Binding{Key: "open", Device: "door", Kind: event.KindDoorOpen, Type: Bool01},
	Binding{Key: "pin", Device: "door", Kind: event.KindPin, Type: Text},
	Binding{Key: "Temp", Device: "DHT", Kind: event.KindSample, Type: Text},
	Binding{Key: "Hum", Device: "DHT", Kind: event.KindSample, Type: Text},
	Binding{Key: "Press", Device: "LPS22HB", Kind: event.KindSample, Type: Text},
	Binding{Key: "ultrasonic", Device: "base_door", Kind: event.KindSample, Type: Text},
	Binding{Key: "magnetometer", Device: "base_door", Kind: event.KindSample, Type: Text},
	Binding{Key: "ultrasonic_s", Device: "door", Kind: event.KindSample, Type: Int},
	Binding{Key: "magnetometer_s", Device: "door", Kind: event.KindSample, Type: Int},
	Binding{Key: KeyECO2, Device: "CCS811", Kind: event.KindAirQuality, Type: Text},
	Binding{Key: KeyETVOC, Device: "CCS811", Kind: event.KindAirQuality, Type: Text},
)

// Lookup returns the dialect with the given name.
func Lookup(name string) (*Dialect, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "simple":
		return Simple, true
	case "pair":
		return Pair, true
	case "triple":
		return Triple, true
	}
	return nil, false
}
