package device

import (
	"fmt"
	"time"
)

// State is the closed set of device protocol states.
type State int

const (
	StateNotInitialized State = iota
	StateReady
	StateCommandSent
	StateCommandReceived
	StateCoolingDown
	StateNotConnected
	StateDebugMode
	// StateAlreadySent and StateBusy are rejection results returned by Send.
	// The protocol never rests in them.
	StateAlreadySent
	StateBusy
)

var stateNames = map[State]string{
	StateNotInitialized:  "NOT_INITIALIZED",
	StateReady:           "READY",
	StateCommandSent:     "COMMAND_SENT",
	StateCommandReceived: "COMMAND_RECEIVED",
	StateCoolingDown:     "COOLING_DOWN",
	StateNotConnected:    "NOT_CONNECTED",
	StateDebugMode:       "DEBUG_MODE",
	StateAlreadySent:     "ALREADY_SENT",
	StateBusy:            "BUSY",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown device state %q", text)
}

// IsRejection reports whether s is a Send rejection rather than a state.
func (s State) IsRejection() bool {
	return s == StateAlreadySent || s == StateBusy
}

// Accepted reports whether a Send result means the command was taken.
func (s State) Accepted() bool {
	return s == StateCommandSent || s == StateDebugMode
}

// Event drives a state change.
type Event int

const (
	EventOpened Event = iota
	EventOpenFailed
	EventSend
	EventAcknowledged
	EventCompleted
	EventTimeout
	EventWriteFailed
	EventReinitialize
)

var eventNames = [...]string{
	EventOpened:       "opened",
	EventOpenFailed:   "open_failed",
	EventSend:         "send",
	EventAcknowledged: "acknowledged",
	EventCompleted:    "completed",
	EventTimeout:      "timeout",
	EventWriteFailed:  "write_failed",
	EventReinitialize: "reinitialize",
}

func (e Event) String() string {
	if int(e) >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// MarshalText renders the event name in JSON payloads.
func (e Event) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Next is the protocol transition table. It reports false when ev has no
// effect in s.
func Next(s State, ev Event) (State, bool) {
	if ev == EventReinitialize {
		return StateNotInitialized, true
	}
	switch s {
	case StateNotInitialized:
		switch ev {
		case EventOpened:
			return StateReady, true
		case EventOpenFailed:
			return StateDebugMode, true
		}
	case StateReady:
		if ev == EventSend {
			return StateCommandSent, true
		}
	case StateCommandSent:
		switch ev {
		case EventAcknowledged, EventTimeout:
			return StateCommandReceived, true
		case EventWriteFailed:
			return StateNotConnected, true
		}
	case StateCommandReceived:
		switch ev {
		case EventCompleted, EventTimeout:
			return StateCoolingDown, true
		}
	case StateCoolingDown:
		if ev == EventTimeout {
			return StateReady, true
		}
	}
	return s, false
}

// Transition records one applied state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	Event  Event     `json:"event"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}
