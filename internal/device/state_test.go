package device

import (
	"encoding/json"
	"testing"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
		to   State
		ok   bool
	}{
		{StateNotInitialized, EventOpened, StateReady, true},
		{StateNotInitialized, EventOpenFailed, StateDebugMode, true},
		{StateReady, EventSend, StateCommandSent, true},
		{StateReady, EventTimeout, StateReady, false},
		{StateCommandSent, EventAcknowledged, StateCommandReceived, true},
		{StateCommandSent, EventTimeout, StateCommandReceived, true},
		{StateCommandSent, EventWriteFailed, StateNotConnected, true},
		{StateCommandSent, EventSend, StateCommandSent, false},
		{StateCommandReceived, EventCompleted, StateCoolingDown, true},
		{StateCommandReceived, EventTimeout, StateCoolingDown, true},
		{StateCommandReceived, EventAcknowledged, StateCommandReceived, false},
		{StateCoolingDown, EventTimeout, StateReady, true},
		{StateCoolingDown, EventCompleted, StateCoolingDown, false},
		{StateNotConnected, EventOpened, StateNotConnected, false},
		{StateDebugMode, EventSend, StateDebugMode, false},
		{StateDebugMode, EventReinitialize, StateNotInitialized, true},
		{StateNotConnected, EventReinitialize, StateNotInitialized, true},
	}
	for _, tt := range tests {
		to, ok := Next(tt.from, tt.ev)
		if to != tt.to || ok != tt.ok {
			t.Errorf("Next(%s, %s) = %s, %v; want %s, %v", tt.from, tt.ev, to, ok, tt.to, tt.ok)
		}
	}
}

func TestStateJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		S State `json:"s"`
		E Event `json:"e"`
	}{StateCoolingDown, EventTimeout})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"s":"COOLING_DOWN","e":"timeout"}` {
		t.Errorf("got %s", b)
	}
	if State(99).String() != "State(99)" {
		t.Errorf("unknown state string = %q", State(99).String())
	}
}

func TestStateResultHelpers(t *testing.T) {
	if !StateAlreadySent.IsRejection() || !StateBusy.IsRejection() || StateReady.IsRejection() {
		t.Error("IsRejection classification wrong")
	}
	if !StateCommandSent.Accepted() || !StateDebugMode.Accepted() || StateBusy.Accepted() {
		t.Error("Accepted classification wrong")
	}
}

func TestStateUnmarshalText(t *testing.T) {
	var s State
	if err := json.Unmarshal([]byte(`"COOLING_DOWN"`), &s); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if s != StateCoolingDown {
		t.Errorf("got %v, want COOLING_DOWN", s)
	}
	if err := json.Unmarshal([]byte(`"SLEEPING"`), &s); err == nil {
		t.Error("expected error for unknown state name")
	}
}
