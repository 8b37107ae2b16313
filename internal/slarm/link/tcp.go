package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

// DefaultDiscoveryTimeout bounds how long a node waits for its peer.
const DefaultDiscoveryTimeout = 15 * time.Second

// Handshake keys. A dialer announces itself with `hello,<name>`; the
// listener answers `welcome,<name>` or `reject,<reason>`.
const (
	helloKey   = "hello"
	welcomeKey = "welcome"
	rejectKey  = "reject"
)

// AdmitFunc decides whether a peer announcing name may connect.
type AdmitFunc func(name string) error

// Dial connects to addr and performs the hello exchange. The returned
// stream's Peer is the name the listener answered with.
func Dial(ctx context.Context, addr, self string) (*Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()
	r := bufio.NewReaderSize(conn, wire.PayloadCap)

	if _, err := fmt.Fprintf(conn, "%s,%s\n", helloKey, self); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hello to %s: %w", addr, err)
	}
	key, val, err := readHandshake(r)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	switch key {
	case welcomeKey:
	case rejectKey:
		conn.Close()
		return nil, fmt.Errorf("%s: %w: %s", addr, ErrRejected, val)
	default:
		conn.Close()
		return nil, fmt.Errorf("handshake with %s: unexpected %q", addr, key)
	}

	_ = conn.SetDeadline(time.Time{})
	return newStream(val, conn, r), nil
}

// Listener accepts hop-1 peers.
type Listener struct {
	ln      net.Listener
	self    string
	admit   AdmitFunc
	timeout time.Duration
	logger  *log.Logger
}

// Listen binds addr. admit may be nil to accept every peer.
func Listen(addr, self string, admit AdmitFunc, timeout time.Duration, logger *log.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	return &Listener{ln: ln, self: self, admit: admit, timeout: timeout, logger: logger}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) Close() error { return l.ln.Close() }

// Accept waits for the next admitted peer. Peers that fail the handshake
// or are refused by admit are logged and skipped. Cancelling ctx closes
// the listener.
func (l *Listener) Accept(ctx context.Context) (*Stream, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("accept: %w", err)
		}

		s, err := l.handshake(conn)
		if err != nil {
			l.logf("link: peer %s refused: %v", conn.RemoteAddr(), err)
			continue
		}
		return s, nil
	}
}

func (l *Listener) handshake(conn net.Conn) (*Stream, error) {
	_ = conn.SetDeadline(time.Now().Add(l.timeout))
	r := bufio.NewReaderSize(conn, wire.PayloadCap)

	key, name, err := readHandshake(r)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if key != helloKey || name == "" {
		conn.Close()
		return nil, fmt.Errorf("expected hello, got %q", key)
	}
	if l.admit != nil {
		if err := l.admit(name); err != nil {
			_, _ = fmt.Fprintf(conn, "%s,%s\n", rejectKey, wire.Truncate(err.Error(), wire.ValueCap))
			conn.Close()
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	if _, err := fmt.Fprintf(conn, "%s,%s\n", welcomeKey, l.self); err != nil {
		conn.Close()
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})
	return newStream(name, conn, r), nil
}

func (l *Listener) logf(format string, args ...any) {
	if l.logger != nil {
		l.logger.Printf(format, args...)
	}
}

func readHandshake(r *bufio.Reader) (key, val string, err error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", "", err
	}
	g, ok := wire.ScanSimple(line)
	if !ok {
		return "", "", fmt.Errorf("malformed handshake %q", strings.TrimSpace(line))
	}
	return g.Key, g.Value, nil
}
