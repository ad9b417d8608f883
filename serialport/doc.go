// Package serialport owns the physical serial connection of the bridge.
//
// A Channel opens one OS serial handle (through github.com/tarm/serial by
// default), runs a dedicated read loop and hands every received chunk to a
// single registered ReceiveHandler. Writes go straight to the device.
//
// # Read loop
//
// The read loop repeatedly reads up to Config.ReadBufferSize bytes (1 by
// default) with the configured read timeout (250 ms by default):
//
//   - bytes read: the handler is called synchronously with exactly those bytes;
//   - timeout or zero bytes: the loop reads again;
//   - any other error: the loop ends, Done is closed and Err reports a *ReadError.
//
// The read timeout is the only way the loop notices Close: Close cancels the
// loop and waits for the pending read to time out before releasing the handle,
// so the handle is closed exactly once and never underneath a pending read.
//
// # Configuration
//
// Config values are validated when they are set. The strict functional options
// of NewConfig reject unsupported values with a *ConfigError. The Apply*Code
// setters are permissive: an unsupported code leaves the previously held value
// in place and the rejected code is reported as a *ConfigError for logging.
// A Config becomes immutable once a Channel using it has been opened.
package serialport
