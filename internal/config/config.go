package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Node roles.
const (
	RoleDoor    = "door"
	RoleBase    = "base"
	RoleAdmin   = "admin"
	RoleDisplay = "display"
)

var ErrInvalidRole = errors.New("invalid role")

type LinkConfig struct {
	// Listen is the hop-1 address the base node accepts the door on.
	Listen string `yaml:"listen"`
	// Peer is the address the door node dials.
	Peer             string        `yaml:"peer"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	// Rate caps lines per second sent by the door node. 0 = unlimited.
	Rate float64 `yaml:"rate"`
	// Display is where the base node relays raw lines and where the
	// display node listens. Empty disables the relay.
	Display string `yaml:"display"`
}

type BrokerConfig struct {
	Kind          string        `yaml:"kind"` // mqtt | nats | memory
	URL           string        `yaml:"url"`
	Topic         string        `yaml:"topic"`
	ClientID      string        `yaml:"client_id"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type QueueConfig struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"` // drop-newest | drop-oldest
}

type AccessConfig struct {
	PIN             string        `yaml:"pin"`
	AutoLock        time.Duration `yaml:"auto_lock"`
	RequirePresence bool          `yaml:"require_presence"`
}

type Config struct {
	Role string `yaml:"role"`
	Node string `yaml:"node"`

	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"` // empty = disabled

	// DB
	DBPath string `yaml:"db_path"` // empty = in-memory

	Link   LinkConfig   `yaml:"link"`
	Broker BrokerConfig `yaml:"broker"`
	Queue  QueueConfig  `yaml:"queue"`
	Access AccessConfig `yaml:"access"`

	AuditCapacity int      `yaml:"audit_capacity"`
	KnownPeers    []string `yaml:"known_peers"`

	// Sample history
	SampleRetention  time.Duration `yaml:"sample_retention"` // 0 = keep forever
	PruneInterval    time.Duration `yaml:"prune_interval"`
	AnomalyThreshold float64       `yaml:"anomaly_threshold"`

	Actuator    bool `yaml:"actuator"`
	ProximityCM int  `yaml:"proximity_cm"`

	// Console reads commands from stdin when set.
	Console bool `yaml:"console"`
}

func Default() Config {
	return Config{
		Role:     RoleBase,
		HTTPAddr: ":8080",
		Link: LinkConfig{
			Listen:           ":7401",
			Peer:             "127.0.0.1:7401",
			DiscoveryTimeout: 15 * time.Second,
			RetryInterval:    time.Second,
			Rate:             10,
		},
		Broker: BrokerConfig{
			Kind:          "mqtt",
			URL:           "tcp://broker.hivemq.com:1883",
			Topic:         "topic/test/esp32_sub",
			ClientID:      "esp32_sub",
			ReconnectWait: time.Second,
		},
		Queue: QueueConfig{
			Capacity: 64,
			Policy:   "drop-newest",
		},
		Access: AccessConfig{
			PIN:      "65896",
			AutoLock: 5 * time.Second,
		},
		AuditCapacity:    5,
		SampleRetention:  24 * time.Hour,
		PruneInterval:    time.Minute,
		AnomalyThreshold: 0.15,
		ProximityCM:      50,
	}
}

// Load reads the YAML file at path over Default, applies SLARM_*
// environment overrides and validates the result. An empty path skips
// the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv is Default plus environment overrides.
func FromEnv() Config {
	return applyEnv(Default())
}

func applyEnv(c Config) Config {
	c.Role = strings.ToLower(getenvDefault("SLARM_ROLE", c.Role))
	c.Node = getenvDefault("SLARM_NODE", c.Node)
	c.HTTPAddr = getenvDefault("SLARM_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenvDefault("SLARM_GRPC_ADDR", c.GRPCAddr)
	c.DBPath = getenvDefault("SLARM_DB_PATH", c.DBPath)

	c.Link.Listen = getenvDefault("SLARM_LINK_LISTEN", c.Link.Listen)
	c.Link.Peer = getenvDefault("SLARM_LINK_PEER", c.Link.Peer)
	c.Link.Display = getenvDefault("SLARM_DISPLAY_ADDR", c.Link.Display)
	c.Link.DiscoveryTimeout = getenvDuration("SLARM_DISCOVERY_TIMEOUT", c.Link.DiscoveryTimeout)
	c.Link.RetryInterval = getenvDuration("SLARM_RETRY_INTERVAL", c.Link.RetryInterval)
	c.Link.Rate = getenvFloat("SLARM_TX_RATE", c.Link.Rate)

	c.Broker.Kind = strings.ToLower(getenvDefault("SLARM_BROKER_KIND", c.Broker.Kind))
	c.Broker.URL = getenvDefault("SLARM_BROKER_URL", c.Broker.URL)
	c.Broker.Topic = getenvDefault("SLARM_BROKER_TOPIC", c.Broker.Topic)
	c.Broker.ClientID = getenvDefault("SLARM_BROKER_CLIENT_ID", c.Broker.ClientID)

	c.Queue.Capacity = getenvInt("SLARM_QUEUE_CAPACITY", c.Queue.Capacity)
	c.Queue.Policy = getenvDefault("SLARM_QUEUE_POLICY", c.Queue.Policy)

	c.Access.PIN = getenvDefault("SLARM_PIN", c.Access.PIN)
	c.Access.AutoLock = getenvDuration("SLARM_AUTO_LOCK", c.Access.AutoLock)
	c.Access.RequirePresence = getenvBool("SLARM_REQUIRE_PRESENCE", c.Access.RequirePresence)

	c.AuditCapacity = getenvInt("SLARM_AUDIT_CAPACITY", c.AuditCapacity)
	if peers := splitCSV(os.Getenv("SLARM_KNOWN_PEERS")); peers != nil {
		c.KnownPeers = peers
	}

	c.SampleRetention = getenvDuration("SLARM_SAMPLE_RETENTION", c.SampleRetention)
	c.PruneInterval = getenvDuration("SLARM_PRUNE_INTERVAL", c.PruneInterval)
	c.AnomalyThreshold = getenvFloat("SLARM_ANOMALY_THRESHOLD", c.AnomalyThreshold)

	c.Actuator = getenvBool("SLARM_ACTUATOR", c.Actuator)
	c.ProximityCM = getenvInt("SLARM_PROXIMITY_CM", c.ProximityCM)
	c.Console = getenvBool("SLARM_CONSOLE", c.Console)

	if strings.TrimSpace(c.Node) == "" {
		c.Node = c.Role
	}
	return c
}

// Validate rejects settings no node can start with.
func (c Config) Validate() error {
	switch c.Role {
	case RoleDoor, RoleBase, RoleAdmin, RoleDisplay:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.Queue.Capacity)
	}
	if c.Role == RoleDoor && c.Access.PIN == "" {
		return errors.New("door node needs an access pin")
	}
	return nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
