// Package console is the node's local command shell.
//
//	status              sensor readings and lock position
//	door <lock|unlock>  move the lock (only on the node wired to it)
//	audit               recent audit lines
//	help                command list
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"

	"github.com/slarm-iot/slarm/internal/slarm/actuator"
	"github.com/slarm-iot/slarm/internal/slarm/auditlog"
	"github.com/slarm-iot/slarm/internal/slarm/sensor"
	"github.com/slarm-iot/slarm/internal/slarm/state"
)

var (
	ErrUsage          = errors.New("usage")
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoActuator     = errors.New("no lock actuator on this node")
)

// StateReader is the read side of the aggregator.
type StateReader interface {
	Snapshot() state.State
}

// Console executes shell commands against one node.
type Console struct {
	state StateReader
	lock  actuator.Lock
	audit *auditlog.Ring
}

// New builds a console. lock and audit may be nil.
func New(st StateReader, lock actuator.Lock, audit *auditlog.Ring) *Console {
	return &Console{state: st, lock: lock, audit: audit}
}

// Exec runs one command line and returns its output. On ErrUsage and
// ErrNoActuator the output is the message to show the user.
func (c *Console) Exec(line string) (string, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if len(args) == 0 {
		return "", nil
	}

	switch strings.ToLower(args[0]) {
	case "status":
		return c.status(), nil
	case "door":
		return c.door(args[1:])
	case "audit":
		return c.auditLines(), nil
	case "help":
		return "status\ndoor <lock|unlock>\naudit\nhelp", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
}

func (c *Console) status() string {
	st := c.state.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "ultrasonic: %s\n", reading(st, sensor.MetricUltrasonic))
	fmt.Fprintf(&b, "magnetometer: %s\n", reading(st, sensor.MetricMagnetometer))

	locked, known := st.Locked.True(), st.Locked.Known()
	if c.lock != nil {
		if l, k := c.lock.Locked(); k {
			locked, known = l, true
		}
	}
	switch {
	case !known:
		b.WriteString("Door lock state is unknown")
	case locked:
		b.WriteString("Door is locked")
	default:
		b.WriteString("Door is unlocked")
	}
	return b.String()
}

func reading(st state.State, metric string) string {
	if v, ok := st.Reading(sensor.Device, metric); ok {
		return v
	}
	return state.Unknown
}

func (c *Console) door(args []string) (string, error) {
	const usage = "Usage: door <lock|unlock>"
	if len(args) != 1 {
		return usage, ErrUsage
	}

	var want bool
	switch strings.ToLower(args[0]) {
	case "lock":
		want = true
	case "unlock":
		want = false
	default:
		return usage, ErrUsage
	}

	if c.lock == nil {
		return "This node has no lock actuator", ErrNoActuator
	}
	if cur, known := c.lock.Locked(); known && cur == want {
		return "Door is already " + word(want), nil
	}
	if err := c.lock.SetLocked(want); err != nil {
		return "", err
	}
	return "Door is now " + word(want), nil
}

func word(locked bool) string {
	if locked {
		return "locked"
	}
	return "unlocked"
}

func (c *Console) auditLines() string {
	if c.audit == nil {
		return ""
	}
	return strings.Join(c.audit.Lines(), "\n")
}

// Serve reads commands from r and writes results to w until r is exhausted
// or ctx ends.
func (c *Console) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	fmt.Fprint(w, "slarm> ")
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		out, err := c.Exec(sc.Text())
		switch {
		case out != "":
			fmt.Fprintln(w, out)
		case err != nil:
			fmt.Fprintln(w, err)
		}
		fmt.Fprint(w, "slarm> ")
	}
	return sc.Err()
}
