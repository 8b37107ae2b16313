// Package queue is the bounded multi-producer/single-consumer event queue
// that sits between the sensor loops and the transmit loop.
//
// Enqueue never blocks. When the queue is full the overflow policy decides
// which event is sacrificed; either way the drop is counted and logged and
// the producer carries on. The consumer either polls with TryDequeue or
// blocks on the channel returned by C.
package queue

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/slarm-iot/slarm/internal/slarm/event"
)

var (
	ErrFull     = errors.New("queue full")
	ErrClosed   = errors.New("queue closed")
	ErrNilEvent = errors.New("nil event")
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 64

// Policy decides what happens to an event enqueued into a full queue.
type Policy int

const (
	// DropNewest rejects the incoming event.
	DropNewest Policy = iota
	// DropOldest evicts the head of the queue to make room.
	DropOldest
)

func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "drop-newest", "drop_newest", "newest":
		return DropNewest, nil
	case "drop-oldest", "drop_oldest", "oldest":
		return DropOldest, nil
	}
	return DropNewest, fmt.Errorf("unknown queue policy %q", s)
}

// Queue is safe for any number of producers and one consumer.
type Queue struct {
	// mu serialises producers so that an eviction and the following send
	// happen as one step. The consumer never takes it.
	mu     sync.Mutex
	ch     chan event.Event
	closed bool

	policy  Policy
	onDrop  func(event.Event)
	logger  *log.Logger
	metrics *queueMetrics

	enqueued atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a queue holding at most capacity events.
func New(capacity int, opts ...Option) (*Queue, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	o := applyOptions(opts...)

	q := &Queue{
		ch:     make(chan event.Event, capacity),
		policy: o.policy,
		onDrop: o.onDrop,
		logger: o.logger,
	}
	if o.registerer != nil {
		m, err := newQueueMetrics(o.registerer, o.component)
		if err != nil {
			return nil, fmt.Errorf("queue metrics: %w", err)
		}
		q.metrics = m
	}
	return q, nil
}

// Enqueue adds ev without blocking. It returns ErrFull when ev itself was
// dropped under DropNewest; under DropOldest it always succeeds on an open
// queue.
func (q *Queue) Enqueue(ev event.Event) error {
	if ev == nil {
		return ErrNilEvent
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.ch <- ev:
		q.recordEnqueue()
		return nil
	default:
	}

	if q.policy == DropNewest {
		q.drop(ev)
		return ErrFull
	}

	select {
	case old := <-q.ch:
		q.drop(old)
	default:
		// The consumer emptied a slot in the meantime.
	}
	select {
	case q.ch <- ev:
		q.recordEnqueue()
		return nil
	default:
		q.drop(ev)
		return ErrFull
	}
}

// TryDequeue takes the head of the queue if there is one.
func (q *Queue) TryDequeue() (event.Event, bool) {
	select {
	case ev, ok := <-q.ch:
		if !ok {
			return nil, false
		}
		q.recordDequeue()
		return ev, true
	default:
		return nil, false
	}
}

// C exposes the queue for a blocking consumer. The channel is closed by
// Close once it has been drained. Events taken this way bypass the depth
// gauge until the next Enqueue or TryDequeue.
func (q *Queue) C() <-chan event.Event { return q.ch }

// Len is the number of queued events.
func (q *Queue) Len() int { return len(q.ch) }

// Cap is the queue bound.
func (q *Queue) Cap() int { return cap(q.ch) }

// Policy is the overflow policy in effect.
func (q *Queue) Policy() Policy { return q.policy }

// Enqueued counts accepted events.
func (q *Queue) Enqueued() uint64 { return q.enqueued.Load() }

// Dropped counts events lost to overflow.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Close stops accepting events. Already queued events remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

func (q *Queue) recordEnqueue() {
	q.enqueued.Add(1)
	if q.metrics != nil {
		q.metrics.enqueued.Inc()
		q.metrics.depth.Set(float64(len(q.ch)))
	}
}

func (q *Queue) recordDequeue() {
	if q.metrics != nil {
		q.metrics.dequeued.Inc()
		q.metrics.depth.Set(float64(len(q.ch)))
	}
}

func (q *Queue) drop(ev event.Event) {
	n := q.dropped.Add(1)
	if q.metrics != nil {
		q.metrics.dropped.Inc()
	}
	if q.logger != nil {
		q.logger.Printf("queue full (cap=%d policy=%s): dropped %s event (total dropped %d)",
			cap(q.ch), q.policy, ev.Kind(), n)
	}
	if q.onDrop != nil {
		q.onDrop(ev)
	}
}
