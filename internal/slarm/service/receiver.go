package service

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/event"
	"github.com/slarm-iot/slarm/internal/slarm/link"
	"github.com/slarm-iot/slarm/internal/slarm/state"
	"github.com/slarm-iot/slarm/internal/slarm/types"
	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

var (
	ErrInvalidNode    = errors.New("node is required")
	ErrUnknownDialect = errors.New("unknown dialect")
)

// Receiver is the single decode path that mutates a node's System State.
// Every received line is decoded once and folded as one pass; decoded
// events are then offered to the optional consumers.
type Receiver struct {
	state    *state.Aggregator
	dialect  *wire.Dialect
	registry *PeerRegistry
	samples  *SampleRecorder
	uplink   *Uplink
	relay    LineSender
	logger   *log.Logger
}

type ReceiverConfig struct {
	State    *state.Aggregator
	Dialect  *wire.Dialect
	Registry *PeerRegistry // optional
	Samples  *SampleRecorder
	Uplink   *Uplink
	// Relay gets every raw line unchanged, e.g. the display link.
	Relay  LineSender
	Logger *log.Logger
}

func NewReceiver(cfg ReceiverConfig) *Receiver {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Receiver{
		state:    cfg.State,
		dialect:  cfg.Dialect,
		registry: cfg.Registry,
		samples:  cfg.Samples,
		uplink:   cfg.Uplink,
		relay:    cfg.Relay,
		logger:   logger,
	}
}

func (r *Receiver) Ingest(ctx context.Context, req types.IngestRequest) (types.IngestResponse, error) {
	node := strings.TrimSpace(req.Node)
	if node == "" {
		return types.IngestResponse{}, ErrInvalidNode
	}

	d := r.dialect
	if req.Dialect != "" {
		var ok bool
		if d, ok = wire.Lookup(req.Dialect); !ok {
			return types.IngestResponse{}, ErrUnknownDialect
		}
	}

	known := true
	if r.registry != nil {
		var err error
		known, err = r.registry.IsKnown(ctx, node)
		if err != nil {
			return types.IngestResponse{}, err
		}
		_ = r.registry.NoteSeen(ctx, node, known)
	}

	evs, st := d.DecodeStats(req.Line)
	res := r.state.Apply(evs...)

	now := time.Now().UTC()
	r.offer(ctx, evs, now)
	if r.relay != nil {
		if err := r.relay.Send(ctx, req.Line); err != nil && !errors.Is(err, link.ErrNoLink) {
			r.logger.Printf("receive: relay: %v", err)
		}
	}

	resp := types.IngestResponse{
		OK:         true,
		Known:      known,
		Node:       node,
		Events:     res.Applied,
		Skipped:    st.Skipped,
		ServerTime: now.Format(time.RFC3339Nano),
	}
	for _, e := range res.Audit {
		resp.Audit = append(resp.Audit, e.Text)
	}
	return resp, nil
}

func (r *Receiver) offer(ctx context.Context, evs []event.Event, at time.Time) {
	for _, ev := range evs {
		switch e := ev.(type) {
		case event.SensorSample:
			if r.samples != nil {
				r.samples.Add(e.Device, e.Metric, e.Text, at)
			}
		case event.AirQuality:
			if r.samples != nil {
				r.samples.AddReading("CCS811", wire.KeyECO2, e.ECO2, at)
				r.samples.AddReading("CCS811", wire.KeyETVOC, e.ETVOC, at)
			}
		}
	}
	if r.uplink != nil {
		r.uplink.Add(evs...)
	}
}

// RunLink ingests lines from a hop-1 link manager until ctx ends.
func (r *Receiver) RunLink(ctx context.Context, lines <-chan link.Inbound) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case in, ok := <-lines:
			if !ok {
				return nil
			}
			if _, err := r.Ingest(ctx, types.IngestRequest{Node: in.Peer, Line: in.Line}); err != nil {
				r.logger.Printf("receive: %s: %v", in.Peer, err)
			}
		}
	}
}

// HandleMessage is a pubsub.Handler for the hop-2 topic. The topic stands
// in for the sending node.
func (r *Receiver) HandleMessage(topic string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.Ingest(ctx, types.IngestRequest{Node: topic, Line: string(payload)}); err != nil {
		r.logger.Printf("receive: %s: %v", topic, err)
	}
}
