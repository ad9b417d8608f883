package remote

import (
	"context"
	"errors"
)

// Channel is a bidirectional message channel to the remote service.
type Channel interface {
	// Send queues msg for delivery. It does not wait for the service.
	Send(msg *Message) error
	// OnReceive registers a handler for received messages. Handlers are
	// invoked asynchronously from a goroutine owned by the channel.
	OnReceive(handler func(msg *Message))
	// OnConnectionStatusChanged registers a handler for connection status
	// changes. It is also called with false after every failed connection
	// attempt, including a rejected login.
	OnConnectionStatusChanged(handler func(connected bool))
	// Connect starts connecting in the background.
	Connect() error
	// Disconnect closes the session and stops reconnecting.
	Disconnect() error
	// Done returns a channel that is closed when the connection loop gives
	// up for good, e.g. after the service rejected the credentials.
	// Disconnect does not close it.
	Done() <-chan struct{}
	// Err returns the error that ended the connection loop, or nil.
	Err() error
}

// StatusReporter is implemented by channels that expose their connection state.
type StatusReporter interface {
	IsConnected() bool
	GetMetrics() *ConnectionMetrics
}

// NewChannel creates the Channel implementation selected by cfg.TransportMode.
func NewChannel(ctx context.Context, cfg *ConnectionConfig) (Channel, error) {
	if cfg == nil {
		return nil, errors.New("remote: connection config is nil")
	}

	if cfg.transportMode == TransportLongPolling {
		c, err := NewPollClient(ctx, cfg)
		if err != nil {
			return nil, err
		}

		return c, nil
	}

	c, err := NewWSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return c, nil
}
