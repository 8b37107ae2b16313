// Package auditlog keeps the last few human-readable state transitions.
package auditlog

import (
	"sync"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

const (
	// DefaultCapacity matches the admin screen, which shows five lines.
	DefaultCapacity = 5

	// EntryCap bounds one entry, terminator slot included.
	EntryCap = wire.LineCap
)

// Entry is one immutable log line.
type Entry struct {
	Seq  uint64
	At   time.Time
	Text string
}

// Ring is a fixed-capacity, insertion-ordered log. Appending to a full ring
// evicts the oldest entry. It is safe for concurrent use.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	cap     int
	seq     uint64
	now     func() time.Time
}

// New creates a ring. A non-positive capacity selects DefaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		entries: make([]Entry, 0, capacity),
		cap:     capacity,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Append adds msg, truncated to EntryCap-1 bytes, and returns the stored
// entry. It always succeeds.
func (r *Ring) Append(msg string) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	e := Entry{Seq: r.seq, At: r.now(), Text: wire.Truncate(msg, EntryCap)}

	if len(r.entries) == r.cap {
		copy(r.entries, r.entries[1:])
		r.entries[len(r.entries)-1] = e
	} else {
		r.entries = append(r.entries, e)
	}
	return e
}

// Entries returns a copy, oldest first.
func (r *Ring) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Lines returns the entry texts, oldest first.
func (r *Ring) Lines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Text
	}
	return out
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Ring) Cap() int { return r.cap }
