package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCommandAppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("$run,breathe,0#"))
	require.NoError(t, mux.SendCommand("$stop#\n"))
	assert.Equal(t, "$run,breathe,0#\n$stop#\n", string(port.GetWrittenData()))
}

func TestSendCommandErrors(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	port.WriteError = errors.New("unplugged")
	assert.EqualError(t, mux.SendCommand("x"), "unplugged")

	port.ShortWrite = true
	assert.ErrorIs(t, mux.SendCommand("x"), ErrWriteFailed)
}

func TestMonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	_, a := mux.Subscribe()
	idB, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("received\r\nrunc"))
	port.AddReadData([]byte("omp\n"))

	for _, ch := range []chan string{a, b} {
		assert.Equal(t, "received", recv(t, ch))
		assert.Equal(t, "runcomp", recv(t, ch))
	}

	mux.Unsubscribe(idB)
	_, ok := <-b
	assert.False(t, ok, "unsubscribed channel is closed")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestMonitorReturnsReadError(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	port.FailNextRead(errors.New("device reset"))
	select {
	case err := <-done:
		assert.EqualError(t, err, "device reset")
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return the read error")
	}
}

func TestCloseClosesSubscribersAndPort(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	id, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, port.Closed)

	// unsubscribing after close is harmless
	mux.Unsubscribe(id)
}

func TestAdminSendCommandAPI(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	form := url.Values{"command": {"$stop#"}}
	req := httptest.NewRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "$stop#\n", string(port.GetWrittenData()))

	req = httptest.NewRequest(http.MethodGet, "/debug/send-command-api", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func recv(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case line := <-ch:
		return line
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for line")
		return ""
	}
}
