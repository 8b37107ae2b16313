package node

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/slarm-iot/slarm/internal/slarm/actuator"
	"github.com/slarm-iot/slarm/internal/slarm/display"
	"github.com/slarm-iot/slarm/internal/slarm/event"
	"github.com/slarm-iot/slarm/internal/slarm/fusion"
	"github.com/slarm-iot/slarm/internal/slarm/link"
	"github.com/slarm-iot/slarm/internal/slarm/pubsub"
	"github.com/slarm-iot/slarm/internal/slarm/queue"
	"github.com/slarm-iot/slarm/internal/slarm/sensor"
	"github.com/slarm-iot/slarm/internal/slarm/service"
	"github.com/slarm-iot/slarm/internal/slarm/store/sqlite"
	"github.com/slarm-iot/slarm/internal/slarm/types"
	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

const defaultDisplayAddr = ":7402"

// buildDoor wires the sensor node: pollers feed the event queue, the
// transmitter drains it over hop 1 and the access service drives the lock.
func (n *Node) buildDoor() error {
	cfg := n.cfg

	policy, err := queue.ParsePolicy(cfg.Queue.Policy)
	if err != nil {
		return err
	}
	q, err := queue.New(cfg.Queue.Capacity,
		queue.WithPolicy(policy),
		queue.WithLogger(n.logger),
		queue.WithMetrics(n.reg, "door"),
	)
	if err != nil {
		return fmt.Errorf("event queue: %w", err)
	}
	n.onClose(q.Close)

	servo := actuator.NewServo(actuator.LogPWM{Logger: n.logger}, n.logger, func(locked bool) {
		if err := q.Enqueue(event.LockChanged{Locked: locked}); err != nil {
			n.logger.Printf("servo: lock event not queued: %v", err)
		}
	})
	n.lock = servo

	n.access = service.NewAccessService(cfg.Node, service.AccessPolicy{
		PIN:             cfg.Access.PIN,
		RequirePresence: cfg.Access.RequirePresence,
		AutoLock:        cfg.Access.AutoLock,
	}, servo, sqlite.NewAccessEventStore(n.sqlDB, n.writer), q, n.logger)
	n.onClose(n.access.Stop)

	if n.hop1, err = link.NewManager(link.ManagerConfig{
		Name:             "hop1",
		DiscoveryTimeout: cfg.Link.DiscoveryTimeout,
		RetryInterval:    cfg.Link.RetryInterval,
		Registerer:       n.reg,
	}, n.logger); err != nil {
		return err
	}
	n.onClose(n.hop1.Close)

	var limiter *rate.Limiter
	if cfg.Link.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Link.Rate), 1)
	}
	tx := &service.Transmitter{
		Events:  q.C(),
		Dialect: wire.Simple,
		Link:    n.hop1,
		State:   n.state,
		Access:  n.access,
		Limiter: limiter,
		Logger:  n.logger,
	}

	poller := &sensor.Poller{
		Echo:        n.opts.Echo,
		Field:       n.opts.Field,
		Keys:        n.opts.Keys,
		Sink:        q,
		Logger:      n.logger,
		ProximityCM: cfg.ProximityCM,
	}
	if poller.Echo == nil {
		poller.Echo = &sensor.SimEcho{}
	}
	if poller.Field == nil {
		poller.Field = &sensor.SimField{}
	}
	if poller.Keys == nil && n.opts.Stdin != nil && !cfg.Console {
		poller.Keys = sensor.NewReaderKeys(n.opts.Stdin)
	}

	// Lines coming back from the base node update the local view.
	n.receiver = service.NewReceiver(service.ReceiverConfig{
		State:   n.state,
		Dialect: wire.Simple,
		Logger:  n.logger,
	})

	n.spawn("hop1 dialer", func(ctx context.Context) error {
		return n.hop1.RunDialer(ctx, link.TCPDialer(cfg.Link.Peer, cfg.Node))
	})
	n.spawn("hop1 receiver", func(ctx context.Context) error {
		return n.receiver.RunLink(ctx, n.hop1.Lines())
	})
	n.spawn("transmitter", tx.Run)
	n.spawn("ultrasonic", poller.RunUltrasonic)
	n.spawn("magnetometer", poller.RunMagnetometer)
	if poller.Keys != nil {
		n.detach("keypad", poller.RunKeypad)
	}
	return nil
}

// buildBase wires the hub: it accepts the door on hop 1, records samples,
// relays raw lines to the display and batches updates onto the broker.
func (n *Node) buildBase() error {
	cfg := n.cfg

	nodes := sqlite.NewNodeStore(n.sqlDB, n.writer)
	registry := service.NewPeerRegistry(nodes, len(cfg.KnownPeers) == 0)

	var err error
	if n.hop1, err = link.NewManager(link.ManagerConfig{
		Name:             "hop1",
		DiscoveryTimeout: cfg.Link.DiscoveryTimeout,
		RetryInterval:    cfg.Link.RetryInterval,
		Registerer:       n.reg,
	}, n.logger); err != nil {
		return err
	}
	n.onClose(n.hop1.Close)

	ln, err := link.Listen(cfg.Link.Listen, cfg.Node, n.hop1.Admit(registry.Admit), cfg.Link.DiscoveryTimeout, n.logger)
	if err != nil {
		return err
	}
	n.linkAddr = ln.Addr()
	n.onClose(func() { _ = ln.Close() })

	var relay service.LineSender
	if cfg.Link.Display != "" {
		disp, err := link.NewManager(link.ManagerConfig{
			Name:             "display",
			DiscoveryTimeout: cfg.Link.DiscoveryTimeout,
			RetryInterval:    cfg.Link.RetryInterval,
			Registerer:       n.reg,
		}, n.logger)
		if err != nil {
			return err
		}
		n.onClose(disp.Close)
		relay = disp
		n.spawn("display dialer", func(ctx context.Context) error {
			return disp.RunDialer(ctx, link.TCPDialer(cfg.Link.Display, cfg.Node))
		})
		n.spawn("display drain", func(ctx context.Context) error {
			return drain(ctx, disp.Lines())
		})
	}

	broker, err := n.buildBroker()
	if err != nil {
		return err
	}
	uplink := service.NewUplink(broker, cfg.Broker.Topic, service.DefaultUplinkInterval, n.logger)

	n.buildHistory()
	n.receiver = service.NewReceiver(service.ReceiverConfig{
		State:    n.state,
		Dialect:  wire.Simple,
		Registry: registry,
		Samples:  n.recorder,
		Uplink:   uplink,
		Relay:    relay,
		Logger:   n.logger,
	})

	n.spawn("hop1 listener", func(ctx context.Context) error {
		return n.hop1.RunListener(ctx, ln)
	})
	n.spawn("hop1 receiver", func(ctx context.Context) error {
		return n.receiver.RunLink(ctx, n.hop1.Lines())
	})
	n.spawn("uplink", uplink.Run)
	return nil
}

// buildAdmin wires the monitoring node: broker in, state, history and the
// status panel.
func (n *Node) buildAdmin() error {
	broker, err := n.buildBroker()
	if err != nil {
		return err
	}

	n.buildHistory()
	n.receiver = service.NewReceiver(service.ReceiverConfig{
		State:   n.state,
		Dialect: wire.Triple,
		Samples: n.recorder,
		Logger:  n.logger,
	})
	if err := broker.Subscribe(n.cfg.Broker.Topic, n.receiver.HandleMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", n.cfg.Broker.Topic, err)
	}

	n.buildPanel()
	return nil
}

// buildDisplay wires the relay screen: it accepts the base node and prints
// each line that differs from the previous one.
func (n *Node) buildDisplay() error {
	cfg := n.cfg
	addr := cfg.Link.Display
	if addr == "" {
		addr = defaultDisplayAddr
	}

	registry := service.NewPeerRegistry(sqlite.NewNodeStore(n.sqlDB, n.writer), len(cfg.KnownPeers) == 0)

	var err error
	if n.hop1, err = link.NewManager(link.ManagerConfig{
		Name:             "display",
		DiscoveryTimeout: cfg.Link.DiscoveryTimeout,
		RetryInterval:    cfg.Link.RetryInterval,
		Registerer:       n.reg,
	}, n.logger); err != nil {
		return err
	}
	n.onClose(n.hop1.Close)

	ln, err := link.Listen(addr, cfg.Node, n.hop1.Admit(registry.Admit), cfg.Link.DiscoveryTimeout, n.logger)
	if err != nil {
		return err
	}
	n.linkAddr = ln.Addr()
	n.onClose(func() { _ = ln.Close() })

	n.receiver = service.NewReceiver(service.ReceiverConfig{
		State:   n.state,
		Dialect: wire.Simple,
		Logger:  n.logger,
	})
	lines := display.NewLineLog(n.logger)

	n.spawn("display listener", func(ctx context.Context) error {
		return n.hop1.RunListener(ctx, ln)
	})
	n.spawn("display lines", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case in := <-n.hop1.Lines():
				if !lines.Show(in.Line) {
					continue
				}
				if _, err := n.receiver.Ingest(ctx, types.IngestRequest{Node: in.Peer, Line: in.Line}); err != nil {
					n.logger.Printf("display: %v", err)
				}
			}
		}
	})

	n.buildPanel()
	return nil
}

// buildBroker returns the injected broker or builds one from config, and
// schedules its connect loop.
func (n *Node) buildBroker() (pubsub.Broker, error) {
	cfg := n.cfg.Broker
	b := n.opts.Broker
	if b == nil {
		var err error
		b, err = pubsub.New(pubsub.Config{
			Kind:           cfg.Kind,
			URL:            cfg.URL,
			ClientID:       cfg.ClientID,
			ReconnectWait:  cfg.ReconnectWait,
			UniqueClientID: true,
		}, n.logger)
		if err != nil {
			return nil, err
		}
		n.onClose(func() { _ = b.Close() })
	}

	n.spawn("broker", func(ctx context.Context) error {
		if err := b.Connect(ctx); err != nil && ctx.Err() == nil {
			n.logger.Printf("broker: %v", err)
		}
		return nil
	})
	return b, nil
}

// buildHistory sets up sample persistence with anomaly flagging and
// retention.
func (n *Node) buildHistory() {
	samples := sqlite.NewSampleStore(n.sqlDB, n.writer)
	n.samples = samples

	detector := fusion.NewDetector(0, 0, n.cfg.AnomalyThreshold)
	n.recorder = service.NewSampleRecorder(samples, detector, service.DefaultFlushInterval, n.logger)
	n.onClose(n.recorder.Stop)

	n.pruner = service.NewSamplePruner(samples, service.PrunerConfig{
		Retention: n.cfg.SampleRetention,
		Interval:  n.cfg.PruneInterval,
	}, n.logger)
	n.onClose(n.pruner.Stop)
}

func (n *Node) buildPanel() {
	if n.opts.Stdout == nil {
		return
	}
	r := display.NewRenderer(n.state, n.state.Audit(), display.NewTextPanel(n.opts.Stdout))
	n.spawn("panel", r.Run)
}

// drain discards inbound lines from a send-only link.
func drain(ctx context.Context, lines <-chan link.Inbound) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lines:
		}
	}
}
