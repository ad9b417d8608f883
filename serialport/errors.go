package serialport

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedValue is wrapped by every *ConfigError.
	ErrUnsupportedValue = errors.New("serialport: unsupported value")
	// ErrConfigFrozen is returned when a Config is modified after its channel has been opened.
	ErrConfigFrozen = errors.New("serialport: config is immutable once the port is opened")
	// ErrAlreadyOpen is returned by Open on a channel that is not closed.
	ErrAlreadyOpen = errors.New("serialport: port already open")
	// ErrReadLoopBusy is returned by Open when the read loop of a timed out
	// Close is still blocked in a read.
	ErrReadLoopBusy = errors.New("serialport: previous read loop still running")
)

// ConfigError reports a configuration value outside the supported enumerations.
type ConfigError struct {
	Field string
	Value string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("serialport: unsupported %s %q", e.Field, e.Value)
}

func (e *ConfigError) Unwrap() error { return ErrUnsupportedValue }

// OpenError reports that the OS serial device could not be acquired
// (missing port, missing permission, already in use).
type OpenError struct {
	Port string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("serialport: open %s: %v", e.Port, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// ReadError reports a read failure that invalidated the channel and ended the read loop.
type ReadError struct {
	Port string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("serialport: read %s: %v", e.Port, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
