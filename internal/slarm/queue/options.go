package queue

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slarm-iot/slarm/internal/slarm/event"
)

// Option configures a Queue.
type Option func(*options)

type options struct {
	policy     Policy
	onDrop     func(event.Event)
	logger     *log.Logger
	registerer prometheus.Registerer
	component  string
}

// WithPolicy sets the overflow policy. Defaults to DropNewest.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithDropCallback is called, under the producer lock, for every dropped event.
func WithDropCallback(fn func(event.Event)) Option {
	return func(o *options) { o.onDrop = fn }
}

// WithLogger reports drops.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics exports queue counters. Ignored when reg is nil.
func WithMetrics(reg prometheus.Registerer, component string) Option {
	return func(o *options) {
		if reg != nil {
			o.registerer = reg
			o.component = component
		}
	}
}

func applyOptions(opts ...Option) *options {
	o := &options{policy: DropNewest, component: "events"}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
