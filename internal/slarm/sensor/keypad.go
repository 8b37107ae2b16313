// Package sensor turns raw door-node readings into events: keypad PIN
// sessions, ultrasonic proximity and magnetometer door position.
package sensor

import (
	"strings"

	"github.com/slarm-iot/slarm/internal/slarm/event"
)

// Keymap is the 4x4 keypad layout, indexed [row][col].
var Keymap = [4][4]string{
	{"1", "2", "3", "A"},
	{"4", "5", "6", "B"},
	{"7", "8", "9", "C"},
	{"0", "F", "E", "D"},
}

// StartKey opens a PIN session.
const StartKey = "B"

// KeyAt returns the key at row, col, or "" when out of range.
func KeyAt(row, col int) string {
	if row < 0 || row >= len(Keymap) || col < 0 || col >= len(Keymap[row]) {
		return ""
	}
	return Keymap[row][col]
}

// KeypadSession collects one PIN. Keys are ignored until StartKey is
// pressed; the next event.PinLength keys form the PIN, after which the
// session waits for StartKey again.
type KeypadSession struct {
	active bool
	digits []byte
}

// Press feeds one key. It returns the PIN when the session completes.
func (s *KeypadSession) Press(key string) (event.PinEntered, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return event.PinEntered{}, false
	}
	if !s.active {
		if key == StartKey {
			s.active = true
			s.digits = s.digits[:0]
		}
		return event.PinEntered{}, false
	}

	s.digits = append(s.digits, key[0])
	if len(s.digits) < event.PinLength {
		return event.PinEntered{}, false
	}
	pin := event.PinEntered{PIN: string(s.digits)}
	s.active = false
	s.digits = s.digits[:0]
	return pin, true
}

// Active reports whether a session is collecting digits.
func (s *KeypadSession) Active() bool { return s.active }

// Entered is the number of keys collected so far.
func (s *KeypadSession) Entered() int { return len(s.digits) }
