package sensor

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// SimEcho produces echo pulses for a person walking up to the door and
// away again.
type SimEcho struct {
	mu   sync.Mutex
	step int
}

func (s *SimEcho) Echo(context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = (s.step + 1) % 100
	// 200cm down to 20cm and back over ten seconds at 100ms cadence.
	d := s.step
	if d > 50 {
		d = 100 - d
	}
	cm := 200 - d*180/50
	return time.Duration(cm*58) * time.Microsecond, nil
}

// SimField produces magnetometer readings with the door closed most of
// the time and briefly open.
type SimField struct {
	mu   sync.Mutex
	step int
}

func (s *SimField) Field(context.Context) (float64, float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step++
	base := 3.2
	if s.step%20 >= 16 {
		base = 0.8
	}
	j := func() float64 { return base + (rand.Float64()-0.5)*0.2 }
	return j(), -j(), j(), nil
}
