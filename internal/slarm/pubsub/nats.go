package pubsub

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATS is a Broker backed by a core NATS connection. Core NATS delivers at
// most once, so QoS 1 is approximated by the broker staying connected.
type NATS struct {
	cfg    Config
	logger *log.Logger

	mu   sync.Mutex
	conn *nats.Conn
	subs map[string]Handler
}

func NewNATS(cfg Config, logger *log.Logger) *NATS {
	return &NATS{cfg: cfg.withDefaults(), logger: orDiscard(logger), subs: make(map[string]Handler)}
}

func (n *NATS) Connect(ctx context.Context) error {
	n.logger.Printf("nats: connecting to %s as %s", n.cfg.URL, n.cfg.ClientID)

	type result struct {
		conn *nats.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := nats.Connect(n.cfg.URL,
			nats.Name(n.cfg.ClientID),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(n.cfg.ReconnectWait),
			nats.RetryOnFailedConnect(true),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				n.logger.Printf("nats: disconnected: %v", err)
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				n.logger.Printf("nats: reconnected to %s", c.ConnectedUrl())
			}),
		)
		ch <- result{c, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("nats connect: %w", r.err)
		}
		n.mu.Lock()
		n.conn = r.conn
		subs := make(map[string]Handler, len(n.subs))
		for t, h := range n.subs {
			subs[t] = h
		}
		n.mu.Unlock()
		for t, h := range subs {
			if err := n.subscribe(r.conn, t, h); err != nil {
				return err
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *NATS) Connected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conn != nil && n.conn.IsConnected()
}

func (n *NATS) Publish(_ context.Context, topic string, payload []byte) error {
	n.mu.Lock()
	c := n.conn
	n.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	if err := c.Publish(topic, payload); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}

func (n *NATS) Subscribe(topic string, h Handler) error {
	n.mu.Lock()
	n.subs[topic] = h
	c := n.conn
	n.mu.Unlock()
	if c == nil {
		return nil
	}
	return n.subscribe(c, topic, h)
}

func (n *NATS) subscribe(c *nats.Conn, topic string, h Handler) error {
	if _, err := c.Subscribe(topic, func(m *nats.Msg) {
		h(m.Subject, clamp(m.Data))
	}); err != nil {
		return fmt.Errorf("nats subscribe %s: %w", topic, err)
	}
	n.logger.Printf("nats: subscribed to %s", topic)
	return nil
}

func (n *NATS) Close() error {
	n.mu.Lock()
	c := n.conn
	n.conn = nil
	n.mu.Unlock()
	if c != nil {
		c.Close()
	}
	return nil
}
