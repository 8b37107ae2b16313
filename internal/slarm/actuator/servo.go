// Package actuator drives the door lock servo.
package actuator

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// ErrNotReady is returned when the PWM output is missing.
var ErrNotReady = errors.New("pwm output not ready")

// Servo pulse timings.
const (
	Period        = 20 * time.Millisecond
	LockedPulse   = 700 * time.Microsecond
	UnlockedPulse = 2500 * time.Microsecond
)

// Lock is the set-lock capability. Only the node wired to the servo holds
// one.
type Lock interface {
	SetLocked(locked bool) error
	// Locked returns the last commanded position; known is false until
	// the first successful command.
	Locked() (locked, known bool)
}

// PWM is one pulse-width output channel.
type PWM interface {
	Set(period, pulse time.Duration) error
}

// Servo is a Lock on a hobby servo.
type Servo struct {
	pwm      PWM
	logger   *log.Logger
	onChange func(locked bool)

	mu     sync.Mutex
	locked bool
	known  bool
}

// NewServo wraps pwm. onChange, if set, runs after every successful move
// that changed the position.
func NewServo(pwm PWM, logger *log.Logger, onChange func(locked bool)) *Servo {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Servo{pwm: pwm, logger: logger, onChange: onChange}
}

func (s *Servo) SetLocked(locked bool) error {
	if s.pwm == nil {
		return ErrNotReady
	}
	pulse := UnlockedPulse
	if locked {
		pulse = LockedPulse
	}

	s.mu.Lock()
	if err := s.pwm.Set(Period, pulse); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("move servo to %s: %w", position(locked), err)
	}
	changed := !s.known || s.locked != locked
	s.locked, s.known = locked, true
	s.mu.Unlock()

	s.logger.Printf("servo moved to %s position", position(locked))
	if changed && s.onChange != nil {
		s.onChange(locked)
	}
	return nil
}

func (s *Servo) Locked() (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked, s.known
}

func position(locked bool) string {
	if locked {
		return "locked"
	}
	return "unlocked"
}

// LogPWM is a PWM that only logs, for nodes without a servo attached.
type LogPWM struct {
	Logger *log.Logger
}

func (p LogPWM) Set(period, pulse time.Duration) error {
	p.Logger.Printf("pwm: period=%s pulse=%s", period, pulse)
	return nil
}
