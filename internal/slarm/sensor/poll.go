package sensor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"time"
	"unicode"

	"github.com/slarm-iot/slarm/internal/slarm/event"
)

// Sampling cadences used by the door node.
const (
	UltrasonicInterval   = 100 * time.Millisecond
	MagnetometerInterval = 500 * time.Millisecond
)

// EchoSource measures one ultrasonic echo pulse.
type EchoSource interface {
	Echo(ctx context.Context) (time.Duration, error)
}

// FieldSource reads the magnetometer axes, in gauss.
type FieldSource interface {
	Field(ctx context.Context) (x, y, z float64, err error)
}

// KeySource blocks until the next key press.
type KeySource interface {
	Key(ctx context.Context) (string, error)
}

// Sink accepts events without blocking; *queue.Queue satisfies it.
type Sink interface {
	Enqueue(ev event.Event) error
}

// Poller runs the sensor loops of one door node. Any source may be nil, in
// which case that loop logs once and exits, leaving the rest running.
type Poller struct {
	Echo   EchoSource
	Field  FieldSource
	Keys   KeySource
	Sink   Sink
	Logger *log.Logger

	ProximityCM int
	// Zero selects the default cadences.
	UltrasonicEvery   time.Duration
	MagnetometerEvery time.Duration
}

// RunUltrasonic samples the echo source until ctx ends.
func (p *Poller) RunUltrasonic(ctx context.Context) error {
	if p.Echo == nil {
		p.Logger.Printf("ultrasonic: no sensor, loop disabled")
		return nil
	}
	det := NewProximityDetector(p.ProximityCM)
	return tick(ctx, every(p.UltrasonicEvery, UltrasonicInterval), func() {
		echo, err := p.Echo.Echo(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.Logger.Printf("ultrasonic: read: %v", err)
			}
			return
		}
		p.emit(det.Observe(DistanceCM(echo)))
	})
}

// RunMagnetometer samples the field source until ctx ends.
func (p *Poller) RunMagnetometer(ctx context.Context) error {
	if p.Field == nil {
		p.Logger.Printf("magnetometer: no sensor, loop disabled")
		return nil
	}
	var det DoorDetector
	return tick(ctx, every(p.MagnetometerEvery, MagnetometerInterval), func() {
		x, y, z, err := p.Field.Field(ctx)
		if err != nil {
			if ctx.Err() == nil {
				p.Logger.Printf("magnetometer: read: %v", err)
			}
			return
		}
		p.emit(det.Observe(x, y, z))
	})
}

// RunKeypad feeds key presses into a PIN session until ctx ends or the
// source is exhausted.
func (p *Poller) RunKeypad(ctx context.Context) error {
	if p.Keys == nil {
		p.Logger.Printf("keypad: no keypad, loop disabled")
		return nil
	}
	var sess KeypadSession
	for {
		key, err := p.Keys.Key(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			p.Logger.Printf("keypad: %v", err)
			continue
		}
		if pin, ok := sess.Press(key); ok {
			p.emit([]event.Event{pin})
		}
	}
}

func (p *Poller) emit(evs []event.Event) {
	for _, ev := range evs {
		if err := p.Sink.Enqueue(ev); err != nil {
			p.Logger.Printf("sensor: %s event not queued: %v", ev.Kind(), err)
		}
	}
}

func every(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func tick(ctx context.Context, d time.Duration, fn func()) error {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		fn()
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// ReaderKeys reads key presses as characters from r, skipping whitespace.
// It lets a terminal stand in for the keypad.
type ReaderKeys struct {
	r *bufio.Reader
}

func NewReaderKeys(r io.Reader) *ReaderKeys {
	return &ReaderKeys{r: bufio.NewReader(r)}
}

// Key returns the next non-space character, upper-cased. The read itself
// is not interruptible; ctx is checked between characters.
func (k *ReaderKeys) Key(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		c, _, err := k.r.ReadRune()
		if err != nil {
			return "", err
		}
		if unicode.IsSpace(c) {
			continue
		}
		return string(unicode.ToUpper(c)), nil
	}
}
