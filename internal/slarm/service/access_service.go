package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/actuator"
	"github.com/slarm-iot/slarm/internal/slarm/event"
	"github.com/slarm-iot/slarm/internal/slarm/store"
	"github.com/slarm-iot/slarm/internal/slarm/types"
)

var (
	ErrInvalidPIN = errors.New("pin is required")
)

// DefaultPIN and DefaultAutoLock match the door firmware.
const (
	DefaultPIN      = "65896"
	DefaultAutoLock = 5 * time.Second
)

type AccessPolicy struct {
	PIN string
	// RequirePresence denies entry unless the proximity sensor reports
	// someone in front of the door.
	RequirePresence bool
	// AutoLock relocks the door this long after a grant. 0 disables it.
	AutoLock time.Duration
}

// Sink receives the events a decision produces.
type Sink interface {
	Enqueue(ev event.Event) error
}

// AccessService decides keypad attempts on the node that owns the lock.
type AccessService struct {
	node       string
	policy     AccessPolicy
	lock       actuator.Lock
	eventStore store.AccessEventStore
	sink       Sink
	logger     *log.Logger

	mu      sync.Mutex
	present *bool
	relock  *time.Timer
}

func NewAccessService(node string, policy AccessPolicy, lock actuator.Lock, es store.AccessEventStore, sink Sink, logger *log.Logger) *AccessService {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &AccessService{
		node:       node,
		policy:     policy,
		lock:       lock,
		eventStore: es,
		sink:       sink,
		logger:     logger,
	}
}

// NotePresence records the latest proximity reading.
func (s *AccessService) NotePresence(present bool) {
	s.mu.Lock()
	s.present = &present
	s.mu.Unlock()
}

func (s *AccessService) Decide(ctx context.Context, req types.AccessRequest) (types.AccessResponse, error) {
	now := time.Now().UTC()

	node := strings.TrimSpace(req.Node)
	if node == "" {
		node = s.node
	}
	pin := strings.TrimSpace(req.PIN)
	if pin == "" {
		return types.AccessResponse{}, ErrInvalidPIN
	}

	present := req.Present
	if present == nil {
		s.mu.Lock()
		present = s.present
		s.mu.Unlock()
	}

	granted := false
	reason := "pin_mismatch"
	switch {
	case s.policy.RequirePresence && (present == nil || !*present):
		reason = "no_presence"
	case pinMatches(pin, s.policy.PIN):
		granted = true
		reason = "pin_ok"
	}

	resp := types.AccessResponse{
		OK:         true,
		Granted:    granted,
		Reason:     reason,
		Node:       node,
		ServerTime: now.Format(time.RFC3339Nano),
	}

	if granted {
		if relockAt, err := s.unlock(now); err != nil {
			s.logger.Printf("access: unlock failed: %v", err)
			resp.OK = false
			resp.Granted = false
			resp.Reason = "actuator_fault"
		} else if !relockAt.IsZero() {
			resp.RelockAt = relockAt.Format(time.RFC3339Nano)
		}
	}

	s.recordEvent(ctx, req, node, pin, present, resp.Granted, resp.Reason, now)
	s.emit(event.AttemptMade{Active: true})

	return resp, nil
}

func pinMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// unlock opens the lock and arms the relock timer, replacing any timer left
// by an earlier grant.
func (s *AccessService) unlock(now time.Time) (time.Time, error) {
	if s.lock == nil {
		return time.Time{}, actuator.ErrNotReady
	}
	if err := s.lock.SetLocked(false); err != nil {
		return time.Time{}, err
	}
	if s.policy.AutoLock <= 0 {
		return time.Time{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.relock != nil {
		s.relock.Stop()
	}
	s.relock = time.AfterFunc(s.policy.AutoLock, func() {
		if err := s.lock.SetLocked(true); err != nil {
			s.logger.Printf("access: auto-lock failed: %v", err)
		}
	})
	return now.Add(s.policy.AutoLock), nil
}

// Stop cancels a pending auto-lock.
func (s *AccessService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.relock != nil {
		s.relock.Stop()
		s.relock = nil
	}
}

func (s *AccessService) emit(ev event.Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Enqueue(ev); err != nil {
		s.logger.Printf("access: %s not queued: %v", ev.Kind(), err)
	}
}

// recordEvent persists the decision. A failed write is logged and does not
// change the outcome.
func (s *AccessService) recordEvent(
	ctx context.Context,
	req types.AccessRequest,
	node, pin string,
	present *bool,
	granted bool,
	reason string,
	decidedAt time.Time,
) {
	if s.eventStore == nil {
		return
	}
	sum := sha256.Sum256([]byte(pin))
	rec := store.AccessEventRecord{
		Node:        node,
		ReceivedAt:  decidedAt,
		RequestedAt: parseOptionalTimestamp(req.RequestedAt),
		Present:     present,
		PINHash:     sum[:],
		Granted:     granted,
		Reason:      reason,
		DecidedAt:   decidedAt,
	}
	if err := s.eventStore.RecordEvent(ctx, rec); err != nil {
		s.logger.Printf("access: record decision: %v", err)
	}
}

// parseOptionalTimestamp returns nil for empty or unparseable input.
func parseOptionalTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		u := t.UTC()
		return &u
	}
	return nil
}
