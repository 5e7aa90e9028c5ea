package serialmux

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/kinetic/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func readEventually(t *testing.T, l *Link) string {
	t.Helper()
	var line string
	require.Eventually(t, func() bool {
		var ok bool
		line, ok = l.ReadLine()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	return line
}

func TestLinkReadLineIsNonBlocking(t *testing.T) {
	port := NewTestableSerialPort()
	l := NewLink(NewSerialMux(port))
	defer l.Close()

	line, ok := l.ReadLine()
	assert.False(t, ok)
	assert.Empty(t, line)

	port.AddReadData([]byte("hello\nworld\n"))
	assert.Equal(t, "hello", readEventually(t, l))
	assert.Equal(t, "world", readEventually(t, l))
}

func TestLinkRestartsMonitorAfterReadError(t *testing.T) {
	port := NewTestableSerialPort()
	l := newLink(NewSerialMux(port), 10*time.Millisecond)
	defer l.Close()

	port.FailNextRead(errors.New("glitch"))
	require.Eventually(t, func() bool {
		port.mu.Lock()
		defer port.mu.Unlock()
		return port.ReadCalls >= 2
	}, 2*time.Second, 5*time.Millisecond, "monitor should restart and read again")

	port.AddReadData([]byte("received\n"))
	assert.Equal(t, "received", readEventually(t, l))
}

func TestLinkSendAndClose(t *testing.T) {
	port := NewTestableSerialPort()
	l := NewLink(NewSerialMux(port))

	require.NoError(t, l.SendCommand("$stop#"))
	assert.Equal(t, "$stop#\n", string(port.GetWrittenData()))

	require.NoError(t, l.Close())
	require.NoError(t, l.Close(), "second close is a no-op")
	assert.True(t, port.Closed)

	_, ok := l.ReadLine()
	assert.False(t, ok)
}
