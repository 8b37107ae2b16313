package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrBusy is returned to a peer that tries to connect while another link
// is active.
var ErrBusy = errors.New("link busy")

// Dialer establishes one link. It must honour ctx's deadline.
type Dialer func(ctx context.Context) (Link, error)

// TCPDialer dials addr announcing self.
func TCPDialer(addr, self string) Dialer {
	return func(ctx context.Context) (Link, error) {
		return Dial(ctx, addr, self)
	}
}

// Inbound is one received line tagged with its sender.
type Inbound struct {
	Peer string
	Line string
}

// ManagerConfig tunes a Manager.
type ManagerConfig struct {
	Name             string
	DiscoveryTimeout time.Duration
	RetryInterval    time.Duration
	Registerer       prometheus.Registerer
}

// Manager keeps at most one active link and funnels its inbound lines into
// a single channel. Losing the link is never fatal: the dial side retries
// forever and the listen side waits for the next peer.
type Manager struct {
	name      string
	discovery time.Duration
	retry     time.Duration
	logger    *log.Logger
	metrics   *linkMetrics

	mu  sync.RWMutex
	cur Link

	inbound chan Inbound
}

func NewManager(cfg ManagerConfig, logger *log.Logger) (*Manager, error) {
	if cfg.DiscoveryTimeout <= 0 {
		cfg.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "hop1"
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &Manager{
		name:      cfg.Name,
		discovery: cfg.DiscoveryTimeout,
		retry:     cfg.RetryInterval,
		logger:    logger,
		inbound:   make(chan Inbound, 64),
	}
	if cfg.Registerer != nil {
		lm, err := newLinkMetrics(cfg.Registerer, cfg.Name)
		if err != nil {
			return nil, fmt.Errorf("link metrics: %w", err)
		}
		m.metrics = lm
	}
	return m, nil
}

// Lines delivers inbound lines from whichever link is active.
func (m *Manager) Lines() <-chan Inbound { return m.inbound }

// Active reports whether a link is up.
func (m *Manager) Active() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur != nil
}

// Peer is the name of the connected peer, or "".
func (m *Manager) Peer() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cur == nil {
		return ""
	}
	return m.cur.Peer()
}

// Send writes to the active link.
func (m *Manager) Send(ctx context.Context, line string) error {
	m.mu.RLock()
	cur := m.cur
	m.mu.RUnlock()
	if cur == nil {
		return ErrNoLink
	}
	if err := cur.Send(ctx, line); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.sent.Inc()
	}
	return nil
}

// Admit wraps a peer check with the single-link rule, for use as a
// Listener's AdmitFunc.
func (m *Manager) Admit(known AdmitFunc) AdmitFunc {
	return func(name string) error {
		if m.Active() {
			return ErrBusy
		}
		if known != nil {
			return known(name)
		}
		return nil
	}
}

// RunDialer keeps a link to the peer reachable through dial. Each attempt
// gets the discovery timeout; failures are logged and retried after the
// retry interval until ctx ends.
func (m *Manager) RunDialer(ctx context.Context, dial Dialer) error {
	for {
		dctx, cancel := context.WithTimeout(ctx, m.discovery)
		l, err := dial(dctx)
		timedOut := errors.Is(dctx.Err(), context.DeadlineExceeded)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if timedOut {
				err = fmt.Errorf("%w after %s: %v", ErrDiscoveryTimeout, m.discovery, err)
			}
			m.logger.Printf("%s: connect failed: %v; retrying in %s", m.name, err, m.retry)
			if m.metrics != nil {
				m.metrics.failures.Inc()
			}
			if !sleep(ctx, m.retry) {
				return nil
			}
			continue
		}

		m.serve(ctx, l)
		if ctx.Err() != nil {
			return nil
		}
		if m.metrics != nil {
			m.metrics.reconnects.Inc()
		}
		if !sleep(ctx, m.retry) {
			return nil
		}
	}
}

// RunListener accepts peers from ln one at a time.
func (m *Manager) RunListener(ctx context.Context, ln *Listener) error {
	for {
		l, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			m.logger.Printf("%s: accept: %v", m.name, err)
			if !sleep(ctx, m.retry) {
				return nil
			}
			continue
		}
		if !m.attach(l) {
			m.logger.Printf("%s: dropping extra peer %s", m.name, l.Peer())
			_ = l.Close()
			continue
		}
		go m.pump(ctx, l)
	}
}

// serve attaches l and blocks until it dies or ctx ends.
func (m *Manager) serve(ctx context.Context, l Link) {
	if !m.attach(l) {
		_ = l.Close()
		return
	}
	m.pump(ctx, l)
}

func (m *Manager) attach(l Link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur != nil {
		return false
	}
	m.cur = l
	m.logger.Printf("%s: linked with %s", m.name, l.Peer())
	if m.metrics != nil {
		m.metrics.up.Set(1)
	}
	return true
}

func (m *Manager) detach(l Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == l {
		m.cur = nil
		if m.metrics != nil {
			m.metrics.up.Set(0)
		}
	}
}

// pump forwards lines from l until it fails or ctx ends, then releases it.
func (m *Manager) pump(ctx context.Context, l Link) {
	defer func() {
		m.detach(l)
		_ = l.Close()
	}()

	for {
		line, err := l.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Printf("%s: link with %s lost: %v", m.name, l.Peer(), err)
			}
			return
		}
		if m.metrics != nil {
			m.metrics.received.Inc()
		}
		select {
		case m.inbound <- Inbound{Peer: l.Peer(), Line: line}:
		case <-ctx.Done():
			return
		}
	}
}

// Close drops the active link, if any.
func (m *Manager) Close() {
	m.mu.RLock()
	cur := m.cur
	m.mu.RUnlock()
	if cur != nil {
		_ = cur.Close()
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type linkMetrics struct {
	up         prometheus.Gauge
	reconnects prometheus.Counter
	failures   prometheus.Counter
	sent       prometheus.Counter
	received   prometheus.Counter
}

func newLinkMetrics(reg prometheus.Registerer, name string) (*linkMetrics, error) {
	labels := prometheus.Labels{"link": name}
	counter := func(n, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "slarm", Subsystem: "link", Name: n, ConstLabels: labels, Help: help,
		})
	}
	m := &linkMetrics{
		up: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "slarm", Subsystem: "link", Name: "up", ConstLabels: labels,
			Help: "1 while a peer is connected",
		}),
		reconnects: counter("reconnects_total", "Links lost and re-established"),
		failures:   counter("connect_failures_total", "Failed discovery attempts"),
		sent:       counter("lines_sent_total", "Lines written to the peer"),
		received:   counter("lines_received_total", "Lines read from the peer"),
	}
	for _, c := range []prometheus.Collector{m.up, m.reconnects, m.failures, m.sent, m.received} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
