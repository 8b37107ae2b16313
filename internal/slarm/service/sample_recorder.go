package service

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/event"
	"github.com/slarm-iot/slarm/internal/slarm/fusion"
	"github.com/slarm-iot/slarm/internal/slarm/store"
)

// DefaultFlushInterval matches the gateway's one-second batch commit.
const DefaultFlushInterval = time.Second

// SampleRecorder buffers sensor samples and writes them to the history in
// one transaction per interval. Numeric samples pass through the anomaly
// detector first; flagged samples are also stored under "<metric>_anomaly".
type SampleRecorder struct {
	store    store.SampleStore
	detector *fusion.Detector
	interval time.Duration
	logger   *log.Logger

	mu  sync.Mutex
	buf []store.SampleRecord

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSampleRecorder creates a recorder but does not start it. detector may
// be nil to skip anomaly detection.
func NewSampleRecorder(s store.SampleStore, detector *fusion.Detector, interval time.Duration, logger *log.Logger) *SampleRecorder {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &SampleRecorder{
		store:    s,
		detector: detector,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Add buffers one sample. Text that does not parse as a number is kept
// with a zero numeric value and skips anomaly detection.
func (r *SampleRecorder) Add(device, metric, text string, at time.Time) {
	f, err := strconv.ParseFloat(text, 64)
	numeric := err == nil

	recs := []store.SampleRecord{{Device: device, Metric: metric, Value: text, Float: f, At: at}}
	if numeric && r.detector != nil {
		if a, ok := r.detector.Observe(device, metric, f); ok {
			r.logger.Printf("anomaly: %s/%s value=%g estimate=%g residual=%g",
				a.Device, a.Metric, a.Value, a.Estimate, a.Residual)
			recs = append(recs, store.SampleRecord{
				Device: device, Metric: metric + fusion.AnomalySuffix, Value: text, Float: f, At: at,
			})
		}
	}

	r.mu.Lock()
	r.buf = append(r.buf, recs...)
	r.mu.Unlock()
}

// AddReading buffers r when it holds a value.
func (r *SampleRecorder) AddReading(device, metric string, rd event.Reading, at time.Time) {
	if !rd.Valid {
		return
	}
	r.Add(device, metric, strconv.FormatFloat(rd.Value, 'f', -1, 64), at)
}

// Buffered reports how many records await the next flush.
func (r *SampleRecorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Flush writes the buffer. On failure the batch is dropped and logged;
// history is best-effort.
func (r *SampleRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := r.store.AppendSamples(ctx, batch); err != nil {
		r.logger.Printf("sample flush: dropped %d records: %v", len(batch), err)
		return err
	}
	return nil
}

// Start begins the flush loop. The loop exits when ctx is cancelled or
// Stop is called, flushing once more on the way out.
func (r *SampleRecorder) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
	r.logger.Printf("sample recorder started (interval=%s)", r.interval)
}

// Stop signals the loop to exit and waits for the final flush.
func (r *SampleRecorder) Stop() {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		} else {
			close(r.done)
		}
	})
	<-r.done
}

func (r *SampleRecorder) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = r.Flush(fctx)
			cancel()
			return
		case <-ticker.C:
			_ = r.Flush(ctx)
		}
	}
}
