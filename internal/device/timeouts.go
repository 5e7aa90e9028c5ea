package device

import "time"

// Timeout holds the two durations of a timed state. Testing applies in
// mockup mode and whenever the installation is outside its working hours.
type Timeout struct {
	Operational time.Duration `json:"operational"`
	Testing     time.Duration `json:"testing"`
}

// Active picks the duration for the current mode.
func (t Timeout) Active(testing bool) time.Duration {
	if testing {
		return t.Testing
	}
	return t.Operational
}

// Timeouts are the per-state timeouts of the protocol.
type Timeouts struct {
	CommandSent     Timeout `json:"command_sent"`
	CommandReceived Timeout `json:"command_received"`
	CoolingDown     Timeout `json:"cooling_down"`
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		CommandSent:     Timeout{Operational: 5 * time.Second, Testing: time.Second},
		CommandReceived: Timeout{Operational: 3 * time.Minute, Testing: 10 * time.Second},
		CoolingDown:     Timeout{Operational: 30 * time.Second, Testing: 3 * time.Second},
	}
}

// For returns the timeout of s. Untimed states return the zero Timeout.
func (t Timeouts) For(s State) Timeout {
	switch s {
	case StateCommandSent:
		return t.CommandSent
	case StateCommandReceived:
		return t.CommandReceived
	case StateCoolingDown:
		return t.CoolingDown
	}
	return Timeout{}
}

func timed(s State) bool {
	return s == StateCommandSent || s == StateCommandReceived || s == StateCoolingDown
}
