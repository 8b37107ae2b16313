package sensor

import (
	"math"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/event"
)

// Sample metric names emitted by the door node.
const (
	MetricUltrasonic   = "ultrasonic_s"
	MetricMagnetometer = "magnetometer_s"
	Device             = "door"
)

const (
	// DefaultProximityCM is the distance under which someone counts as present.
	DefaultProximityCM = 50
	// MagnetometerThreshold is the average field magnitude, in gauss, under
	// which the door counts as open (the magnet has moved away).
	MagnetometerThreshold = 2.5
)

// DistanceCM converts an HC-SR04 echo pulse width to centimetres.
func DistanceCM(echo time.Duration) int {
	return int(echo.Microseconds() / 58)
}

// ProximityDetector emits a sample per reading and a ProximityChanged
// whenever presence flips. The first reading always reports presence.
type ProximityDetector struct {
	ThresholdCM int

	known   bool
	present bool
}

func NewProximityDetector(thresholdCM int) *ProximityDetector {
	if thresholdCM <= 0 {
		thresholdCM = DefaultProximityCM
	}
	return &ProximityDetector{ThresholdCM: thresholdCM}
}

func (d *ProximityDetector) Observe(distanceCM int) []event.Event {
	evs := []event.Event{event.IntSample(Device, MetricUltrasonic, distanceCM)}
	present := distanceCM >= 0 && distanceCM < d.ThresholdCM
	if !d.known || present != d.present {
		d.known = true
		d.present = present
		evs = append(evs, event.ProximityChanged{Present: present})
	}
	return evs
}

// AverageMagnitude is the mean absolute field over the three axes.
func AverageMagnitude(x, y, z float64) float64 {
	return (math.Abs(x) + math.Abs(y) + math.Abs(z)) / 3
}

// DoorDetector classifies magnetometer readings as door open or closed.
type DoorDetector struct {
	known bool
	open  bool
}

// Observe emits the averaged field (x100) as a sample, plus a
// DoorOpenChanged when the door position changes.
func (d *DoorDetector) Observe(x, y, z float64) []event.Event {
	avg := AverageMagnitude(x, y, z)
	open := avg < MagnetometerThreshold

	var evs []event.Event
	if !d.known || open != d.open {
		d.known = true
		d.open = open
		evs = append(evs, event.DoorOpenChanged{Open: open})
	}
	return append(evs, event.IntSample(Device, MetricMagnetometer, int(avg*100)))
}
