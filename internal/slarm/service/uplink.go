package service

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/event"
	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

// DefaultUplinkInterval is how often pending updates go out on hop 2.
const DefaultUplinkInterval = time.Second

// Publisher is the outbound side of the broker hop.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Uplink batches decoded hop-1 events and publishes them on hop 2 in the
// triple dialect. Within one window the latest update per wire key wins;
// attempt markers always go last so the receiver's audit sees the whole
// window. Groups that do not fit in one payload wait for the next tick.
type Uplink struct {
	broker   Publisher
	topic    string
	dialect  *wire.Dialect
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	order   []string
	pending map[string]string // key -> encoded groups
}

func NewUplink(b Publisher, topic string, interval time.Duration, logger *log.Logger) *Uplink {
	if interval <= 0 {
		interval = DefaultUplinkInterval
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Uplink{
		broker:   b,
		topic:    topic,
		dialect:  wire.Triple,
		interval: interval,
		logger:   logger,
		pending:  make(map[string]string),
	}
}

// Add queues events for the next flush. PIN entries never leave the base
// node; events the triple dialect cannot carry are dropped.
func (u *Uplink) Add(evs ...event.Event) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, ev := range evs {
		if ev == nil || ev.Kind() == event.KindPin {
			continue
		}
		if aq, ok := ev.(event.AirQuality); ok {
			// Readings are keyed separately so one does not displace the
			// other within a window.
			if aq.ECO2.Valid {
				u.put(event.AirQuality{ECO2: aq.ECO2}, wire.KeyECO2)
			}
			if aq.ETVOC.Valid {
				u.put(event.AirQuality{ETVOC: aq.ETVOC}, wire.KeyETVOC)
			}
			continue
		}
		u.put(ev, "")
	}
}

func (u *Uplink) put(ev event.Event, sub string) {
	line, err := u.dialect.Encode(ev)
	if err != nil {
		return
	}
	key := uplinkKey(ev, sub)
	if _, ok := u.pending[key]; !ok {
		u.order = append(u.order, key)
	}
	u.pending[key] = line
}

func uplinkKey(ev event.Event, sub string) string {
	if s, ok := ev.(event.SensorSample); ok {
		return ev.Kind().String() + "/" + s.Device + "/" + s.Metric
	}
	if sub != "" {
		return ev.Kind().String() + "/" + sub
	}
	return ev.Kind().String()
}

// Pending reports how many keys await a flush.
func (u *Uplink) Pending() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.order)
}

// Flush publishes what fits in one payload and keeps the rest. A payload
// that fails to publish is not retried.
func (u *Uplink) Flush(ctx context.Context) error {
	payload := u.take()
	if payload == "" {
		return nil
	}
	return u.broker.Publish(ctx, u.topic, []byte(payload))
}

func (u *Uplink) take() string {
	u.mu.Lock()
	defer u.mu.Unlock()

	attemptKey := event.KindAttempt.String()
	keys := make([]string, 0, len(u.order))
	for _, k := range u.order {
		if k != attemptKey {
			keys = append(keys, k)
		}
	}
	if _, ok := u.pending[attemptKey]; ok {
		keys = append(keys, attemptKey)
	}

	var (
		sb   strings.Builder
		sent = make(map[string]bool, len(keys))
	)
	for _, k := range keys {
		part := u.pending[k]
		if sb.Len()+len(part) >= wire.PayloadCap {
			continue
		}
		sb.WriteString(part)
		sent[k] = true
	}

	rest := u.order[:0]
	for _, k := range u.order {
		if sent[k] {
			delete(u.pending, k)
			continue
		}
		rest = append(rest, k)
	}
	u.order = rest
	return sb.String()
}

// Run flushes every interval until ctx ends. Publish failures are logged;
// the broker client reconnects on its own.
func (u *Uplink) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := u.Flush(ctx); err != nil {
				u.logger.Printf("uplink: publish %s: %v", u.topic, err)
			}
		}
	}
}
