package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// It provides control over reads, writes and errors.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than requested
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort with blocking reads,
// which is how a real device behaves while it is silent.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		BlockReads:  true,
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++

	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}

	for t.BlockReads && !t.Closed && t.ReadBuffer.Len() == 0 && t.ReadError == nil {
		t.readCond.Wait()
	}
	if t.Closed {
		return 0, errPortClosed
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	return t.ReadBuffer.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errPortClosed
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.ShortWrite && len(p) > 0 {
		return t.WriteBuffer.Write(p[:len(p)-1])
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}

// FailNextRead makes the next (or currently blocked) Read return err.
func (t *TestableSerialPort) FailNextRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadError = err
	t.readCond.Broadcast()
}

// GetWrittenData returns a copy of all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return bytes.Clone(t.WriteBuffer.Bytes())
}

// SimulatedDevice is a SerialPorter that behaves like the mechanism firmware:
// every `$run,...#` frame is acknowledged straight away and reports
// completion after RunTime. A `$stop#` frame completes the running command.
type SimulatedDevice struct {
	RunTime time.Duration

	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	frames  []string
	timer   *time.Timer
	closed  bool
	pending bytes.Buffer
}

// NewSimulatedDevice returns a device that completes each command after runTime.
func NewSimulatedDevice(runTime time.Duration) *SimulatedDevice {
	r, w := io.Pipe()
	return &SimulatedDevice{RunTime: runTime, r: r, w: w}
}

func (d *SimulatedDevice) Read(p []byte) (int, error) {
	return d.r.Read(p)
}

// Write accepts framed commands. Partial frames are buffered until the
// terminating '#'.
func (d *SimulatedDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errPortClosed
	}
	d.pending.Write(p)
	for {
		data := d.pending.String()
		end := strings.IndexByte(data, '#')
		if end < 0 {
			break
		}
		frame := strings.TrimSpace(data[:end+1])
		d.pending.Next(end + 1)
		d.handle(frame)
	}
	return len(p), nil
}

func (d *SimulatedDevice) handle(frame string) {
	if !strings.HasPrefix(frame, "$") {
		return
	}
	d.frames = append(d.frames, frame)
	if frame == "$stop#" {
		if d.timer != nil && d.timer.Stop() {
			go d.emit("runcomp")
		}
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	go d.emit("received " + frame)
	d.timer = time.AfterFunc(d.RunTime, func() { d.emit("runcomp") })
}

func (d *SimulatedDevice) emit(line string) {
	d.w.Write([]byte(line + "\r\n"))
}

// Frames returns every frame the device has received.
func (d *SimulatedDevice) Frames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.frames...)
}

func (d *SimulatedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.r.Close()
	return d.w.Close()
}

// OpenSimulatedLink returns a Link to a fresh SimulatedDevice. Its signature
// matches OpenLink so it can stand in for real hardware.
func OpenSimulatedLink(runTime time.Duration) func(string, PortOptions) (*Link, error) {
	return func(string, PortOptions) (*Link, error) {
		return NewLink(NewSerialMux(NewSimulatedDevice(runTime))), nil
	}
}
