package serialmux

import (
	"fmt"

	"go.bug.st/serial"
)

// OpenPort opens the serial device at path with the given options.
func OpenPort(path string, opts PortOptions) (serial.Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return port, nil
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[serial.Port], error) {
	port, err := OpenPort(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux[serial.Port](port), nil
}

// OpenLink opens the device at path and returns a polling Link over it.
func OpenLink(path string, opts PortOptions) (*Link, error) {
	mux, err := NewRealSerialMux(path, opts)
	if err != nil {
		return nil, err
	}
	return NewLink(mux), nil
}
