package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/kinetic/internal/serialmux"
)

// TestProtocol_OverSimulatedLink drives the protocol against the simulated
// firmware through the real serial multiplexer.
func TestProtocol_OverSimulatedLink(t *testing.T) {
	simulated := serialmux.OpenSimulatedLink(30 * time.Millisecond)
	open := func(path string, opts serialmux.PortOptions) (Port, error) {
		return simulated(path, opts)
	}
	cfg := Config{
		PortPath: "simulated",
		Timeouts: Timeouts{
			CommandSent:     Timeout{Operational: 5 * time.Second},
			CommandReceived: Timeout{Operational: 5 * time.Second},
			CoolingDown:     Timeout{Operational: 10 * time.Millisecond},
		},
	}
	p := NewProtocol(cfg, open, nil)
	defer p.Close()

	require.Equal(t, StateReady, p.Poll().State)
	state, err := p.Send(Command{Name: "breathe"})
	require.NoError(t, err)
	require.Equal(t, StateCommandSent, state)

	seen := []State{state}
	require.Eventually(t, func() bool {
		st := p.Poll().State
		if seen[len(seen)-1] != st {
			seen = append(seen, st)
		}
		return st == StateReady
	}, 3*time.Second, 5*time.Millisecond)

	assert.Equal(t, []State{StateCommandSent, StateCommandReceived, StateCoolingDown, StateReady}, seen)
}
