// Package display renders System State onto a panel through per-field
// setters.
package display

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/slarm-iot/slarm/internal/slarm/state"
)

// Panel is the display-update command set.
type Panel interface {
	SetDoorLocked(f state.Flag)
	SetDoorOpen(f state.Flag)
	SetMotion(f state.Flag)
	SetFace(name string, validated state.Flag)
	SetPinValidated(f state.Flag)
	SetEnvironment(temperature, humidity string, air state.AirQualityLevel)
	SetLog(lines []string)
}

// Render pushes every field of st to p.
func Render(p Panel, st state.State, logLines []string) {
	p.SetDoorLocked(st.Locked)
	p.SetDoorOpen(st.Open)
	p.SetMotion(st.Motion)
	p.SetFace(st.FaceName, st.FaceValidated)
	p.SetPinValidated(st.PinValidated)
	p.SetEnvironment(st.Temperature, st.Humidity, st.AirQuality)
	p.SetLog(logLines)
}

// Source is what a Renderer watches.
type Source interface {
	Snapshot() state.State
	Subscribe(buffer int) (<-chan state.State, func())
}

// LogSource supplies the audit lines shown under the status fields.
type LogSource interface {
	Lines() []string
}

// Renderer redraws a panel whenever the state changes.
type Renderer struct {
	src   Source
	log   LogSource
	panel Panel
}

func NewRenderer(src Source, logs LogSource, p Panel) *Renderer {
	return &Renderer{src: src, log: logs, panel: p}
}

// Run draws the current state, then every change, until ctx ends.
func (r *Renderer) Run(ctx context.Context) error {
	ch, cancel := r.src.Subscribe(4)
	defer cancel()

	r.draw(r.src.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return nil
		case st, ok := <-ch:
			if !ok {
				return nil
			}
			r.draw(st)
		}
	}
}

func (r *Renderer) draw(st state.State) {
	var lines []string
	if r.log != nil {
		lines = r.log.Lines()
	}
	Render(r.panel, st, lines)
}

// TextPanel writes one "field: value" line per setter call whose value
// differs from what the panel last showed.
type TextPanel struct {
	mu   sync.Mutex
	w    io.Writer
	last map[string]string
}

func NewTextPanel(w io.Writer) *TextPanel {
	return &TextPanel{w: w, last: make(map[string]string)}
}

func (p *TextPanel) SetDoorLocked(f state.Flag) {
	p.set("door", pick(f, "Locked", "Unlocked"))
}

func (p *TextPanel) SetDoorOpen(f state.Flag) {
	p.set("position", pick(f, "Open", "Closed"))
}

func (p *TextPanel) SetMotion(f state.Flag) {
	p.set("motion", pick(f, "Detected", "None"))
}

func (p *TextPanel) SetFace(name string, validated state.Flag) {
	p.set("face", fmt.Sprintf("%s (%s)", name, pick(validated, "Validated", "Rejected")))
}

func (p *TextPanel) SetPinValidated(f state.Flag) {
	p.set("code", pick(f, "Validated", "Invalid"))
}

func (p *TextPanel) SetEnvironment(temperature, humidity string, air state.AirQualityLevel) {
	p.set("temperature", temperature)
	p.set("humidity", humidity)
	p.set("air", string(air))
}

func (p *TextPanel) SetLog(lines []string) {
	p.set("log", strings.Join(lines, " | "))
}

// Shown returns what the panel currently displays, by field.
func (p *TextPanel) Shown() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.last))
	for k, v := range p.last {
		out[k] = v
	}
	return out
}

// Fields lists the displayed field names in order.
func (p *TextPanel) Fields() []string {
	shown := p.Shown()
	keys := make([]string, 0, len(shown))
	for k := range shown {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *TextPanel) set(field, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.last[field]; ok && prev == value {
		return
	}
	p.last[field] = value
	fmt.Fprintf(p.w, "%s: %s\n", field, value)
}

func pick(f state.Flag, yes, no string) string {
	switch f {
	case state.FlagTrue:
		return yes
	case state.FlagFalse:
		return no
	default:
		return state.Unknown
	}
}

// LineLog prints relayed lines, skipping a line identical to the previous
// one.
type LineLog struct {
	mu     sync.Mutex
	last   string
	seen   bool
	logger *log.Logger
}

func NewLineLog(logger *log.Logger) *LineLog {
	return &LineLog{logger: logger}
}

// Show reports whether line was printed.
func (l *LineLog) Show(line string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen && line == l.last {
		return false
	}
	l.last, l.seen = line, true
	l.logger.Printf("display: %s", line)
	return true
}
