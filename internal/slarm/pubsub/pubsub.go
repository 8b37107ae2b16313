// Package pubsub is the hop-2 publish/subscribe transport. The admin node
// subscribes to one topic and receives the gateway's bracketed lines as
// payloads.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

var (
	ErrNotConnected = errors.New("broker not connected")
	ErrUnknownKind  = errors.New("unknown broker kind")
)

// Defaults taken from the deployed admin node.
const (
	DefaultTopic         = "topic/test/esp32_sub"
	DefaultClientID      = "esp32_sub"
	DefaultURL           = "tcp://broker.hivemq.com:1883"
	DefaultReconnectWait = time.Second
)

// Handler receives one inbound payload. Payloads are clamped to
// wire.PayloadCap-1 bytes before delivery.
type Handler func(topic string, payload []byte)

// Broker is a connected pub/sub client. Subscriptions survive reconnects.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, h Handler) error
	Connected() bool
	Close() error
}

// Config is shared by every broker kind.
type Config struct {
	Kind          string // mqtt, nats or memory
	URL           string
	ClientID      string
	ReconnectWait time.Duration
	// UniqueClientID appends a random suffix so that several nodes can
	// share one public broker.
	UniqueClientID bool
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.UniqueClientID {
		c.ClientID = c.ClientID + "-" + uuid.NewString()[:8]
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = DefaultReconnectWait
	}
	return c
}

// New builds a broker of cfg.Kind. It does not connect.
func New(cfg Config, logger *log.Logger) (Broker, error) {
	cfg = cfg.withDefaults()
	switch strings.ToLower(cfg.Kind) {
	case "", "mqtt":
		return NewMQTT(cfg, logger), nil
	case "nats":
		return NewNATS(cfg, logger), nil
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
}

func orDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return log.New(io.Discard, "", 0)
	}
	return l
}

func clamp(p []byte) []byte {
	if len(p) >= wire.PayloadCap {
		return p[:wire.PayloadCap-1]
	}
	return p
}
