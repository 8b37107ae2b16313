package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/store"
)

// SamplePruner periodically deletes samples older than a retention
// period. A retention of 0 disables pruning entirely.
type SamplePruner struct {
	store     store.SampleStore
	retention time.Duration
	interval  time.Duration
	logger    *log.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
}

// PrunerConfig holds the parameters for NewSamplePruner.
type PrunerConfig struct {
	// Retention is how much sample history to keep. 0 keeps everything.
	Retention time.Duration

	// Interval is how often the pruner runs. Defaults to one minute.
	Interval time.Duration
}

// NewSamplePruner creates a pruner but does not start it.
func NewSamplePruner(s store.SampleStore, cfg PrunerConfig, logger *log.Logger) *SamplePruner {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &SamplePruner{
		store:     s,
		retention: cfg.Retention,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the configured interval
// until ctx is cancelled or Stop is called.
func (p *SamplePruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Printf("sample pruner disabled (retention=0)")
		p.once.Do(func() { close(p.done) })
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Printf("sample pruner started (retention=%s, interval=%s)", p.retention, p.interval)
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *SamplePruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	} else {
		p.once.Do(func() { close(p.done) })
	}
	<-p.done
}

func (p *SamplePruner) loop(ctx context.Context) {
	defer close(p.done)

	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *SamplePruner) prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.retention)
	deleted, err := p.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Printf("sample prune error: %v", err)
		return
	}
	if deleted > 0 {
		p.logger.Printf("sample prune: deleted %d rows older than %s",
			deleted, cutoff.Format(time.RFC3339))
	}
}
