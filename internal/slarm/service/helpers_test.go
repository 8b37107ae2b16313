package service_test

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/slarm-iot/slarm/internal/slarm/event"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeLock records every SetLocked call.
type fakeLock struct {
	mu     sync.Mutex
	calls  []bool
	locked bool
	known  bool
	err    error
}

func (f *fakeLock) SetLocked(locked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, locked)
	f.locked, f.known = locked, true
	return nil
}

func (f *fakeLock) Locked() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.locked, f.known
}

func (f *fakeLock) history() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.calls...)
}

// sinkRecorder collects enqueued events.
type sinkRecorder struct {
	mu  sync.Mutex
	evs []event.Event
}

func (s *sinkRecorder) Enqueue(ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evs = append(s.evs, ev)
	return nil
}

func (s *sinkRecorder) events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.evs...)
}

// lineRecorder is a LineSender and Publisher that keeps what it was given.
type lineRecorder struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (l *lineRecorder) Send(_ context.Context, line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.lines = append(l.lines, line)
	return nil
}

func (l *lineRecorder) Publish(ctx context.Context, _ string, payload []byte) error {
	return l.Send(ctx, string(payload))
}

func (l *lineRecorder) sent() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}
