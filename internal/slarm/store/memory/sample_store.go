package memory

import (
	"context"
	"sync"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/store"
)

// SampleStore keeps sample history in a slice ordered by arrival.
type SampleStore struct {
	mu   sync.RWMutex
	recs []store.SampleRecord
}

func NewSampleStore() *SampleStore {
	return &SampleStore{}
}

func (s *SampleStore) AppendSamples(_ context.Context, recs []store.SampleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		if r.At.IsZero() {
			r.At = time.Now().UTC()
		}
		s.recs = append(s.recs, r)
	}
	return nil
}

func (s *SampleStore) History(_ context.Context, device, metric string, limit int) ([]store.SampleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var match []store.SampleRecord
	for _, r := range s.recs {
		if r.Device == device && r.Metric == metric {
			match = append(match, r)
		}
	}
	return newestFirst(match, limit), nil
}

func (s *SampleStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.recs[:0]
	var deleted int64
	for _, r := range s.recs {
		if r.At.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.recs = kept
	return deleted, nil
}

// AuditStore archives audit lines in memory.
type AuditStore struct {
	mu   sync.Mutex
	recs []store.AuditRecord
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) AppendAudit(_ context.Context, rec store.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *AuditStore) RecentAudit(_ context.Context, limit int) ([]store.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.recs, limit), nil
}
