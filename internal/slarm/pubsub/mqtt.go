package pubsub

import (
	"context"
	"fmt"
	"log"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// QoS used for every subscription and publish.
const QoS byte = 1

// MQTT is a Broker backed by paho. The client reconnects on its own with a
// fixed delay and no retry limit; subscriptions are re-issued on every
// (re)connect.
type MQTT struct {
	cfg    Config
	logger *log.Logger
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]Handler
}

func NewMQTT(cfg Config, logger *log.Logger) *MQTT {
	cfg = cfg.withDefaults()
	m := &MQTT{cfg: cfg, logger: orDiscard(logger), subs: make(map[string]Handler)}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.ReconnectWait).
		SetMaxReconnectInterval(cfg.ReconnectWait).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			m.logger.Printf("mqtt: connection lost: %v", err)
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			m.logger.Printf("mqtt: reconnecting to %s", cfg.URL)
		})
	m.client = mqtt.NewClient(opts)
	return m
}

// Connect waits until the first connection succeeds or ctx ends. The
// client keeps retrying in the background either way.
func (m *MQTT) Connect(ctx context.Context) error {
	m.logger.Printf("mqtt: connecting to %s as %s", m.cfg.URL, m.cfg.ClientID)
	return wait(ctx, m.client.Connect())
}

func (m *MQTT) Connected() bool { return m.client.IsConnectionOpen() }

func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := wait(ctx, m.client.Publish(topic, QoS, false, payload)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h. When connected the subscription is sent at once;
// otherwise it is sent by the next connect.
func (m *MQTT) Subscribe(topic string, h Handler) error {
	m.mu.Lock()
	m.subs[topic] = h
	m.mu.Unlock()

	if !m.client.IsConnectionOpen() {
		return nil
	}
	return m.subscribe(topic, h)
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	return nil
}

func (m *MQTT) onConnect(c mqtt.Client) {
	m.logger.Printf("mqtt: connected to %s", m.cfg.URL)

	m.mu.Lock()
	subs := make(map[string]Handler, len(m.subs))
	for t, h := range m.subs {
		subs[t] = h
	}
	m.mu.Unlock()

	for t, h := range subs {
		if err := m.subscribe(t, h); err != nil {
			m.logger.Printf("mqtt: subscribe %s: %v", t, err)
		}
	}
}

func (m *MQTT) subscribe(topic string, h Handler) error {
	tok := m.client.Subscribe(topic, QoS, func(_ mqtt.Client, msg mqtt.Message) {
		h(msg.Topic(), clamp(msg.Payload()))
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	m.logger.Printf("mqtt: subscribed to %s (qos %d)", topic, QoS)
	return nil
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
