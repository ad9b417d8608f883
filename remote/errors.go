package remote

import "errors"

var (
	// ErrNotConnected is returned by Send while no session is established.
	ErrNotConnected = errors.New("remote: not connected")
	// ErrAuthFailed is returned when the service rejects the connect frame.
	ErrAuthFailed = errors.New("remote: authentication failed")
	// ErrSendTimeout is returned when the sender queue stays full for the send timeout.
	ErrSendTimeout = errors.New("remote: send timeout")
	// ErrUnexpectedFrame is returned when the service answers the handshake with an unknown frame.
	ErrUnexpectedFrame = errors.New("remote: unexpected frame")
	// ErrSessionLost is returned when the service no longer knows the session.
	ErrSessionLost = errors.New("remote: session lost")
	// ErrCloseTimeout is returned by Disconnect when the connection loop does not stop in time.
	ErrCloseTimeout = errors.New("remote: disconnect timeout")
)
