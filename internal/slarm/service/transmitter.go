package service

import (
	"context"
	"errors"
	"io"
	"log"

	"golang.org/x/time/rate"

	"github.com/slarm-iot/slarm/internal/slarm/event"
	"github.com/slarm-iot/slarm/internal/slarm/state"
	"github.com/slarm-iot/slarm/internal/slarm/types"
	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

// LineSender is the outbound side of a hop.
type LineSender interface {
	Send(ctx context.Context, line string) error
}

// Transmitter is the single consumer of a door node's event queue. Each
// event is folded into the local state, routed to the access service when
// relevant, encoded and sent over hop 1.
type Transmitter struct {
	Events  <-chan event.Event
	Dialect *wire.Dialect
	Link    LineSender
	State   *state.Aggregator
	Access  *AccessService
	// Limiter paces sends; nil sends as fast as the link accepts.
	Limiter *rate.Limiter
	Logger  *log.Logger
}

// Run drains Events until the channel closes or ctx ends.
func (t *Transmitter) Run(ctx context.Context) error {
	logger := t.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-t.Events:
			if !ok {
				return nil
			}
			t.handle(ctx, ev, logger)
		}
	}
}

func (t *Transmitter) handle(ctx context.Context, ev event.Event, logger *log.Logger) {
	if t.State != nil {
		t.State.Apply(ev)
	}

	if t.Access != nil {
		switch e := ev.(type) {
		case event.ProximityChanged:
			t.Access.NotePresence(e.Present)
		case event.PinEntered:
			resp, err := t.Access.Decide(ctx, types.AccessRequest{PIN: e.PIN})
			if err != nil {
				logger.Printf("transmit: pin decision: %v", err)
			} else {
				logger.Printf("transmit: pin attempt granted=%t reason=%s", resp.Granted, resp.Reason)
			}
		}
	}

	line, err := t.Dialect.Encode(ev)
	if err != nil {
		if !errors.Is(err, wire.ErrUnsupported) && !errors.Is(err, wire.ErrEmpty) {
			logger.Printf("transmit: encode %s: %v", ev.Kind(), err)
		}
		return
	}

	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return
		}
	}
	if err := t.Link.Send(ctx, line); err != nil {
		logger.Printf("transmit: send %q: %v", line, err)
	}
}
