package serialmux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedDeviceAcknowledgesAndCompletes(t *testing.T) {
	dev := NewSimulatedDevice(20 * time.Millisecond)
	l := NewLink(NewSerialMux(dev))
	defer l.Close()

	require.NoError(t, l.SendCommand("$run,breathe,0#"))
	assert.Equal(t, "received $run,breathe,0#", readEventually(t, l))
	assert.Equal(t, "runcomp", readEventually(t, l))
	assert.Equal(t, []string{"$run,breathe,0#"}, dev.Frames())
}

func TestSimulatedDeviceStopCompletesEarly(t *testing.T) {
	dev := NewSimulatedDevice(time.Hour)
	l := NewLink(NewSerialMux(dev))
	defer l.Close()

	require.NoError(t, l.SendCommand("$run,spin,1#"))
	assert.Equal(t, "received $run,spin,1#", readEventually(t, l))

	require.NoError(t, l.SendCommand("$stop#"))
	assert.Equal(t, "runcomp", readEventually(t, l))
}

func TestSimulatedDeviceBuffersPartialFrames(t *testing.T) {
	dev := NewSimulatedDevice(time.Hour)
	defer dev.Close()

	_, err := dev.Write([]byte("$run,wa"))
	require.NoError(t, err)
	assert.Empty(t, dev.Frames())

	go func() {
		buf := make([]byte, 64)
		dev.Read(buf)
	}()
	_, err = dev.Write([]byte("ve,0#\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"$run,wave,0#"}, dev.Frames())
}

func TestSimulatedDeviceWriteAfterClose(t *testing.T) {
	dev := NewSimulatedDevice(time.Second)
	require.NoError(t, dev.Close())
	_, err := dev.Write([]byte("$stop#"))
	assert.Error(t, err)
}
