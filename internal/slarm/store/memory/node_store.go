package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/store"
)

type NodeStore struct {
	mu    sync.RWMutex
	known map[string]struct{}
	seen  map[string]time.Time
}

func NewNodeStore(knownPeers []string) *NodeStore {
	k := make(map[string]struct{}, len(knownPeers))
	for _, n := range knownPeers {
		n = strings.TrimSpace(n)
		if n != "" {
			k[n] = struct{}{}
		}
	}
	return &NodeStore{
		known: k,
		seen:  make(map[string]time.Time),
	}
}

func (s *NodeStore) IsKnown(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.known[name]
	return ok, nil
}

func (s *NodeStore) MarkSeen(_ context.Context, name string, _ bool, t time.Time) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[name] = t
	return nil
}

func (s *NodeStore) ListNodes(_ context.Context) ([]store.NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make(map[string]struct{}, len(s.known)+len(s.seen))
	for n := range s.known {
		names[n] = struct{}{}
	}
	for n := range s.seen {
		names[n] = struct{}{}
	}

	out := make([]store.NodeRecord, 0, len(names))
	for n := range names {
		_, known := s.known[n]
		out = append(out, store.NodeRecord{Name: n, Known: known, LastSeen: s.seen[n]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
