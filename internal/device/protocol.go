// Package device implements the command protocol of the kinetic mechanism:
// framing commands for the serial line, recognising feedback markers, and the
// timeout-driven state machine that confirms each command.
//
// Timeouts are resolved by forcing the next state rather than by raising an
// error, so a silent or lost device can never stall the installation.
package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/kinetic/internal/monitoring"
	"github.com/banshee-data/kinetic/internal/serialmux"
	"github.com/banshee-data/kinetic/internal/timeutil"
)

var logf = monitoring.Tagged("device")

// ErrNotOpen is returned when a write is attempted without an open port.
var ErrNotOpen = errors.New("device port is not open")

// Port is the line-oriented link to the microcontroller. ReadLine must not
// block: it returns false when no complete line is waiting.
type Port interface {
	SendCommand(command string) error
	ReadLine() (string, bool)
	Close() error
}

// Opener opens the port at path. It is injected so tests and the no-device
// mode can supply their own links.
type Opener func(path string, opts serialmux.PortOptions) (Port, error)

// Config is the device section of the installation configuration.
type Config struct {
	PortPath string
	Options  serialmux.PortOptions
	// Mockup substitutes testing timeouts and suppresses transmission.
	Mockup   bool
	Timeouts Timeouts
	// Schedule is the weekly working hours. Nil means always operational.
	Schedule *WorkingHours
}

// Status is a read-only snapshot of the protocol for telemetry.
type Status struct {
	State       State         `json:"state"`
	ID          int           `json:"id"`
	StartedAt   time.Time     `json:"started_at"`
	Elapsed     time.Duration `json:"elapsed"`
	Timeout     time.Duration `json:"timeout"`
	Remaining   time.Duration `json:"remaining"`
	Extra       string        `json:"extra,omitempty"`
	LastCommand string        `json:"last_command,omitempty"`
	Mockup      bool          `json:"mockup"`
	Operational bool          `json:"operational"`
}

// Protocol owns the device link and its state machine. Send is called by the
// control loop and Poll by the device polling task; both are safe to call
// concurrently.
type Protocol struct {
	clock timeutil.Clock
	open  Opener

	mu          sync.Mutex
	cfg         Config
	port        Port
	state       State
	startedAt   time.Time
	extra       string
	lastCommand *Command
	rejected    string
	pending     []Transition

	listenerMu sync.Mutex
	listeners  []func(Transition)
}

// NewProtocol returns a protocol in NOT_INITIALIZED. The first Poll opens the
// port. A nil clock uses the real clock.
func NewProtocol(cfg Config, open Opener, clock timeutil.Clock) *Protocol {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Protocol{
		clock:     clock,
		open:      open,
		cfg:       cfg,
		state:     StateNotInitialized,
		startedAt: clock.Now(),
	}
}

// OnTransition registers fn to be called after every applied transition.
// Callbacks run outside the protocol lock.
func (p *Protocol) OnTransition(fn func(Transition)) {
	p.listenerMu.Lock()
	defer p.listenerMu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// State returns the current state.
func (p *Protocol) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Send offers cmd to the device. It is only accepted in READY, which moves
// the protocol to COMMAND_SENT. Any other state returns a rejection without
// touching the state: ALREADY_SENT for a repeat of the pending command, BUSY
// otherwise. DEBUG_MODE accepts and drops the command. A failed write moves
// to NOT_CONNECTED and returns the error.
func (p *Protocol) Send(cmd Command) (State, error) {
	p.mu.Lock()
	result, err := p.send(cmd)
	pending := p.takePending()
	p.mu.Unlock()

	p.emit(pending)
	return result, err
}

func (p *Protocol) send(cmd Command) (State, error) {
	switch p.state {
	case StateReady:
	case StateDebugMode:
		p.extra = fmt.Sprintf("debug mode, not transmitting %s", cmd.Frame())
		logf("%s", p.extra)
		return StateDebugMode, nil
	default:
		result := StateBusy
		if p.lastCommand != nil && *p.lastCommand == cmd {
			result = StateAlreadySent
		}
		// the control loop retries every tick; log each rejection once per state
		if key := result.String() + " " + cmd.Frame(); key != p.rejected {
			p.rejected = key
			logf("rejecting %s: %s in %s", cmd.Frame(), result, p.state)
		}
		return result, nil
	}

	now := p.clock.Now()
	c := cmd
	p.lastCommand = &c

	transmit := !p.cfg.Mockup && p.operational(now)
	reason := "sent " + cmd.Frame()
	if !transmit {
		reason = "not transmitted " + cmd.Frame()
	}
	p.apply(EventSend, now, reason)

	if !transmit {
		return StateCommandSent, nil
	}
	if err := p.write(cmd.Frame()); err != nil {
		p.apply(EventWriteFailed, now, err.Error())
		return StateNotConnected, fmt.Errorf("send %s: %w", cmd.Frame(), err)
	}
	return StateCommandSent, nil
}

func (p *Protocol) write(frame string) error {
	if p.port == nil {
		return ErrNotOpen
	}
	return p.port.SendCommand(frame)
}

// Poll advances the state machine once: it opens the port when needed,
// applies timeouts and consumes whatever feedback lines are waiting. It
// never blocks on the serial line.
func (p *Protocol) Poll() Status {
	p.mu.Lock()
	p.poll()
	status := p.status(p.clock.Now())
	pending := p.takePending()
	p.mu.Unlock()

	p.emit(pending)
	return status
}

func (p *Protocol) poll() {
	now := p.clock.Now()
	elapsed := now.Sub(p.startedAt)
	timeout := p.activeTimeout(p.state, now)

	switch p.state {
	case StateNotInitialized:
		p.initialize(now)

	case StateCommandSent:
		if elapsed >= timeout {
			logf("warning: no acknowledgement after %s, assuming device is running", elapsed)
			p.apply(EventTimeout, now, "acknowledgement timed out")
			return
		}
		for {
			line, ok := p.readLine()
			if !ok {
				return
			}
			if IsAcknowledgement(line) {
				p.apply(EventAcknowledged, now, line)
				return
			}
		}

	case StateCommandReceived:
		if elapsed >= timeout {
			logf("warning: no completion after %s, assuming device finished", elapsed)
			p.apply(EventTimeout, now, "completion timed out")
			return
		}
		for {
			line, ok := p.readLine()
			if !ok {
				return
			}
			if IsCompletion(line) {
				p.lastCommand = nil
				p.apply(EventCompleted, now, line)
				return
			}
		}

	case StateCoolingDown:
		if elapsed >= timeout {
			p.apply(EventTimeout, now, "cooldown elapsed")
		}
	}
}

func (p *Protocol) initialize(now time.Time) {
	if p.cfg.PortPath == "" || p.open == nil {
		p.apply(EventOpenFailed, now, "no device configured")
		return
	}
	port, err := p.open(p.cfg.PortPath, p.cfg.Options)
	if err != nil {
		logf("failed to open %s: %v", p.cfg.PortPath, err)
		p.apply(EventOpenFailed, now, err.Error())
		return
	}
	p.port = port
	p.apply(EventOpened, now, "opened "+p.cfg.PortPath)
}

// readLine returns the next waiting line. A missing port or a panicking
// driver is treated as no data this poll.
func (p *Protocol) readLine() (line string, ok bool) {
	if p.port == nil {
		return "", false
	}
	defer func() {
		if r := recover(); r != nil {
			logf("serial read failed: %v", r)
			line, ok = "", false
		}
	}()
	return p.port.ReadLine()
}

// Reconfigure closes the current port, applies cfg and returns to
// NOT_INITIALIZED so the next Poll reopens the device. It is the only way out
// of NOT_CONNECTED and DEBUG_MODE.
func (p *Protocol) Reconfigure(cfg Config) {
	p.mu.Lock()
	p.closePort()
	p.cfg = cfg
	p.lastCommand = nil
	p.apply(EventReinitialize, p.clock.Now(), "reconfigured")
	pending := p.takePending()
	p.mu.Unlock()

	p.emit(pending)
}

// Config returns the active configuration.
func (p *Protocol) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Close releases the serial port and returns to NOT_INITIALIZED, so a later
// Poll reopens the device with the current configuration.
func (p *Protocol) Close() error {
	p.mu.Lock()
	wasOpen := p.port != nil
	err := p.closePort()
	if wasOpen {
		p.lastCommand = nil
		p.apply(EventReinitialize, p.clock.Now(), "closed")
	}
	pending := p.takePending()
	p.mu.Unlock()

	p.emit(pending)
	return err
}

func (p *Protocol) closePort() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	if err != nil {
		logf("failed to close port: %v", err)
	}
	return err
}

// Status returns a snapshot without advancing the state machine.
func (p *Protocol) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status(p.clock.Now())
}

func (p *Protocol) status(now time.Time) Status {
	s := Status{
		State:       p.state,
		ID:          int(p.state),
		StartedAt:   p.startedAt,
		Elapsed:     now.Sub(p.startedAt),
		Extra:       p.extra,
		Mockup:      p.cfg.Mockup,
		Operational: p.operational(now),
	}
	if p.lastCommand != nil {
		s.LastCommand = p.lastCommand.Frame()
	}
	if timed(p.state) {
		s.Timeout = p.activeTimeout(p.state, now)
		if s.Remaining = s.Timeout - s.Elapsed; s.Remaining < 0 {
			s.Remaining = 0
		}
	}
	return s
}

func (p *Protocol) operational(now time.Time) bool {
	return p.cfg.Schedule == nil || p.cfg.Schedule.Contains(now)
}

// activeTimeout uses the testing value in mockup mode and outside working
// hours.
func (p *Protocol) activeTimeout(s State, now time.Time) time.Duration {
	testing := p.cfg.Mockup || !p.operational(now)
	return p.cfg.Timeouts.For(s).Active(testing)
}

func (p *Protocol) apply(ev Event, now time.Time, reason string) bool {
	next, ok := Next(p.state, ev)
	if !ok {
		return false
	}
	tr := Transition{From: p.state, To: next, Event: ev, At: now, Reason: reason}
	p.state = next
	p.startedAt = now
	p.rejected = ""
	p.extra = reason
	p.pending = append(p.pending, tr)
	logf("%s -> %s (%s): %s", tr.From, tr.To, ev, reason)
	return true
}

func (p *Protocol) takePending() []Transition {
	pending := p.pending
	p.pending = nil
	return pending
}

func (p *Protocol) emit(transitions []Transition) {
	if len(transitions) == 0 {
		return
	}
	p.listenerMu.Lock()
	listeners := append([]func(Transition){}, p.listeners...)
	p.listenerMu.Unlock()
	for _, tr := range transitions {
		for _, fn := range listeners {
			fn(tr)
		}
	}
}
