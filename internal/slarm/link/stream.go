// Package link is the hop-1 line transport: a duplex "send line / receive
// line" channel between two nodes, established by an explicit discovery
// step and supervised so that at most one link is active per node.
package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slarm-iot/slarm/internal/slarm/wire"
)

var (
	ErrClosed           = errors.New("link closed")
	ErrNoLink           = errors.New("no active link")
	ErrRejected         = errors.New("peer rejected")
	ErrDiscoveryTimeout = errors.New("discovery timed out")
)

// Link is one established hop.
type Link interface {
	Send(ctx context.Context, line string) error
	Recv(ctx context.Context) (string, error)
	Peer() string
	// Done is closed once the link can no longer receive.
	Done() <-chan struct{}
	Close() error
}

// Stream is a Link over any byte stream, framed by '\n'. Inbound lines
// longer than the line bound are truncated, never rejected.
type Stream struct {
	peer    string
	conn    io.ReadWriteCloser
	maxLine int

	wmu    sync.Mutex
	closed atomic.Bool

	lines chan string
	quit  chan struct{}
	dead  chan struct{}
	err   error
}

// NewStream starts reading from conn immediately.
func NewStream(peer string, conn io.ReadWriteCloser) *Stream {
	return newStream(peer, conn, bufio.NewReaderSize(conn, wire.PayloadCap))
}

func newStream(peer string, conn io.ReadWriteCloser, r *bufio.Reader) *Stream {
	s := &Stream{
		peer:    peer,
		conn:    conn,
		maxLine: wire.LineCap - 1,
		lines:   make(chan string, 16),
		quit:    make(chan struct{}),
		dead:    make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

func (s *Stream) Peer() string          { return s.peer }
func (s *Stream) Done() <-chan struct{} { return s.dead }

// Send writes one line. Embedded newlines are replaced so a line can never
// split into two frames.
func (s *Stream) Send(ctx context.Context, line string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	line = strings.NewReplacer("\r", " ", "\n", " ").Replace(line)
	line = wire.Truncate(line, s.maxLine+1)

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if c, ok := s.conn.(net.Conn); ok {
		if dl, ok := ctx.Deadline(); ok {
			_ = c.SetWriteDeadline(dl)
		} else {
			_ = c.SetWriteDeadline(time.Time{})
		}
	}
	if _, err := io.WriteString(s.conn, line+"\n"); err != nil {
		return fmt.Errorf("send to %s: %w", s.peer, err)
	}
	return nil
}

// Recv blocks until a line arrives, the link dies or ctx ends.
func (s *Stream) Recv(ctx context.Context) (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			return "", s.err
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.quit)
	return s.conn.Close()
}

func (s *Stream) readLoop(r *bufio.Reader) {
	defer close(s.dead)
	defer close(s.lines)

	var buf []byte
	for {
		frag, more, err := r.ReadLine()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				s.err = ErrClosed
			} else if errors.Is(err, io.EOF) {
				s.err = fmt.Errorf("%s: %w", s.peer, io.EOF)
			} else {
				s.err = fmt.Errorf("recv from %s: %w", s.peer, err)
			}
			return
		}
		if room := s.maxLine - len(buf); room > 0 {
			buf = append(buf, frag[:min(len(frag), room)]...)
		}
		if more {
			continue
		}
		line := string(buf)
		buf = buf[:0]
		select {
		case s.lines <- line:
		case <-s.quit:
			s.err = ErrClosed
			return
		}
	}
}

// Pipe returns two connected in-process streams.
func Pipe(a, b string) (*Stream, *Stream) {
	ca, cb := net.Pipe()
	return NewStream(b, ca), NewStream(a, cb)
}
