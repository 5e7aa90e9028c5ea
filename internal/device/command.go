package device

import (
	"fmt"
	"strings"
)

// StopCommand is the one command name sent with the fixed "$stop#" frame.
const StopCommand = "stop"

const (
	ackMarker        = "received"
	completionMarker = "runcomp"
)

// Command is a behaviour to run on the mechanism.
type Command struct {
	Name string `json:"name"`
	// Loop asks the device to repeat the behaviour until told otherwise.
	Loop bool `json:"loop"`
}

// Frame encodes the command for the wire, without the line terminator.
func (c Command) Frame() string {
	if c.Name == StopCommand {
		return "$stop#"
	}
	loop := 0
	if c.Loop {
		loop = 1
	}
	return fmt.Sprintf("$run,%s,%d#", c.Name, loop)
}

func (c Command) String() string { return c.Frame() }

// IsAcknowledgement reports whether a feedback line acknowledges a command.
// Matching is case-insensitive and tolerant of surrounding chatter.
func IsAcknowledgement(line string) bool {
	return strings.Contains(strings.ToLower(line), ackMarker)
}

// IsCompletion reports whether a feedback line marks a finished command.
func IsCompletion(line string) bool {
	return strings.Contains(line, completionMarker)
}
