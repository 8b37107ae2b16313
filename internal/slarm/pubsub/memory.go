package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
)

// Memory is an in-process broker. Publish delivers synchronously to every
// handler subscribed to the exact topic.
type Memory struct {
	mu        sync.RWMutex
	subs      map[string][]Handler
	connected atomic.Bool
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]Handler)}
}

func (m *Memory) Connect(context.Context) error {
	m.connected.Store(true)
	return nil
}

func (m *Memory) Connected() bool { return m.connected.Load() }

func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	if !m.connected.Load() {
		return ErrNotConnected
	}
	m.mu.RLock()
	hs := append([]Handler(nil), m.subs[topic]...)
	m.mu.RUnlock()

	p := clamp(append([]byte(nil), payload...))
	for _, h := range hs {
		h(topic, p)
	}
	return nil
}

func (m *Memory) Subscribe(topic string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[topic] = append(m.subs[topic], h)
	return nil
}

func (m *Memory) Close() error {
	m.connected.Store(false)
	return nil
}
