// Package behavior selects at most one configured behaviour per control
// tick from the rolling presence statistics and dispatches its command.
//
// Behaviours are evaluated in configured order and the first one whose
// enabled parameters all pass wins. There is no scoring.
package behavior

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/kinetic/internal/aggregate"
	"github.com/banshee-data/kinetic/internal/device"
	"github.com/banshee-data/kinetic/internal/monitoring"
)

var logf = monitoring.Tagged("behavior")

// Behavior is a named rule mapping statistics to a device command.
type Behavior struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Enabled    bool        `json:"enabled"`
	Command    string      `json:"command"`
	Loop       bool        `json:"loop"`
	Parameters []Parameter `json:"parameters"`
	// LastExecutedAt is set only when the behaviour is dispatched.
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
}

// DeviceCommand returns the command frame this behaviour sends.
func (b *Behavior) DeviceCommand() device.Command {
	return device.Command{Name: b.Command, Loop: b.Loop}
}

// Validate checks the command and every enabled parameter.
func (b *Behavior) Validate() error {
	if b.Command == "" {
		return fmt.Errorf("%w: behaviour %q has no command", ErrInvalidParameter, b.Name)
	}
	var errs []error
	for _, p := range b.Parameters {
		if !p.Enabled {
			continue
		}
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Evaluation is the diagnostic outcome of one behaviour in one tick.
type Evaluation struct {
	Name            string        `json:"name"`
	Eligible        bool          `json:"eligible"`
	Satisfied       bool          `json:"satisfied"`
	Selected        bool          `json:"selected"`
	CriteriaMet     int           `json:"criteria_met"`
	CriteriaEnabled int           `json:"criteria_enabled"`
	Params          []ParamResult `json:"params"`
	Error           string        `json:"error,omitempty"`
}

// Evaluate checks b against the current mode and statistics without
// mutating it.
func Evaluate(b *Behavior, mode string, stats aggregate.Stats, now time.Time) Evaluation {
	ev := Evaluation{
		Name:     b.Name,
		Eligible: b.Enabled && b.Type == mode,
		Params:   make([]ParamResult, 0, len(b.Parameters)),
	}
	if err := b.Validate(); err != nil {
		ev.Error = err.Error()
		ev.Eligible = false
	}
	for _, p := range b.Parameters {
		if !p.Enabled {
			ev.Params = append(ev.Params, ParamResult{Kind: p.Kind})
			continue
		}
		ev.CriteriaEnabled++
		if ev.Error != "" {
			ev.Params = append(ev.Params, ParamResult{Kind: p.Kind, Enabled: true})
			continue
		}
		r := p.evaluate(stats, b.LastExecutedAt, now)
		if r.Passed {
			ev.CriteriaMet++
		}
		ev.Params = append(ev.Params, r)
	}
	ev.Satisfied = ev.Eligible && ev.CriteriaMet == ev.CriteriaEnabled
	return ev
}

// TickResult summarises one evaluation pass.
type TickResult struct {
	Evaluations []Evaluation `json:"evaluations"`
	// Selected is the name of the first satisfied behaviour, or empty.
	Selected string `json:"selected,omitempty"`
	// Dispatched reports that the device accepted the selected command.
	Dispatched bool `json:"dispatched"`
	// DeviceState is the Send result, nil when nothing was sent.
	DeviceState *device.State `json:"device_state,omitempty"`
	Error       string        `json:"error,omitempty"`

	selected int
}

// EvaluateTick evaluates every behaviour and marks the first satisfied one
// as selected. It does not dispatch.
func EvaluateTick(behaviors []*Behavior, mode string, stats aggregate.Stats, now time.Time) TickResult {
	res := TickResult{
		Evaluations: make([]Evaluation, 0, len(behaviors)),
		selected:    -1,
	}
	for i, b := range behaviors {
		ev := Evaluate(b, mode, stats, now)
		if ev.Satisfied && res.selected < 0 {
			ev.Selected = true
			res.selected = i
			res.Selected = b.Name
		}
		res.Evaluations = append(res.Evaluations, ev)
	}
	return res
}

// Commander is the device side of dispatch.
type Commander interface {
	Send(cmd device.Command) (device.State, error)
}

// Engine owns the configured behaviours and their execution stamps.
type Engine struct {
	commander Commander

	mu        sync.Mutex
	behaviors []*Behavior
}

// NewEngine copies behaviors into a new engine dispatching through c.
func NewEngine(behaviors []Behavior, c Commander) *Engine {
	e := &Engine{commander: c}
	e.SetBehaviors(behaviors)
	return e
}

// SetBehaviors replaces the configured behaviours. Execution stamps carry
// over for behaviours whose name is unchanged.
func (e *Engine) SetBehaviors(behaviors []Behavior) {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := make(map[string]*time.Time, len(e.behaviors))
	for _, b := range e.behaviors {
		previous[b.Name] = b.LastExecutedAt
	}
	next := make([]*Behavior, len(behaviors))
	for i := range behaviors {
		b := behaviors[i]
		b.Parameters = append([]Parameter(nil), b.Parameters...)
		if at, ok := previous[b.Name]; ok && b.LastExecutedAt == nil {
			b.LastExecutedAt = at
		}
		next[i] = &b
	}
	e.behaviors = next
}

// Behaviors returns a copy of the configured behaviours.
func (e *Engine) Behaviors() []Behavior {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Behavior, len(e.behaviors))
	for i, b := range e.behaviors {
		out[i] = *b
		if b.LastExecutedAt != nil {
			at := *b.LastExecutedAt
			out[i].LastExecutedAt = &at
		}
	}
	return out
}

// Tick evaluates the behaviours and dispatches the selected one. The
// selected behaviour is stamped with now only when the device accepts the
// command, not on every send attempt: a BUSY or ALREADY_SENT rejection
// leaves the previous stamp in place so the behaviour's cooldown runs from
// the send the device actually took.
func (e *Engine) Tick(mode string, stats aggregate.Stats, now time.Time) TickResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := EvaluateTick(e.behaviors, mode, stats, now)
	if res.selected < 0 || e.commander == nil {
		return res
	}

	b := e.behaviors[res.selected]
	state, err := e.commander.Send(b.DeviceCommand())
	res.DeviceState = &state
	if err != nil {
		res.Error = err.Error()
		logf("dispatch of %q failed: %v", b.Name, err)
	}
	if state.Accepted() {
		at := now
		b.LastExecutedAt = &at
		res.Dispatched = true
		logf("dispatched %q as %s", b.Name, b.DeviceCommand().Frame())
	}
	return res
}
