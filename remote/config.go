package remote

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/arloliu/go-serialbridge/logger"
)

// Endpoint paths below the configured base URL.
const (
	WebSocketPath = "/ws"
	LongPollPath  = "/lp"
)

const (
	DefaultDeviceName       = "Serial Port"
	DefaultConnectTimeout   = 10 * time.Second
	DefaultSendTimeout      = 3 * time.Second
	DefaultCloseTimeout     = 3 * time.Second
	DefaultPollTimeout      = 30 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultSenderQueueSize  = 64
	DefaultReceiveQueueSize = 64

	DefaultInitialRetryDelay = 100 * time.Millisecond
	DefaultMaxRetryDelay     = 30 * time.Second
	retryDelayFactor         = 2
)

// TransportMode selects the wire transport of a channel.
type TransportMode int

const (
	TransportWebSocket TransportMode = iota
	TransportLongPolling
)

func (m TransportMode) String() string {
	switch m {
	case TransportWebSocket:
		return "WebSocket"
	case TransportLongPolling:
		return "Long polling"
	default:
		return "Unknown"
	}
}

// ConnectionConfig holds the connection parameters of a remote channel.
type ConnectionConfig struct {
	baseURL *url.URL

	// identity and credential announced in the connect frame
	connectName  string
	password     string
	networkNames []string
	deviceName   string

	encryption    bool
	transportMode TransportMode

	connectTimeout time.Duration
	sendTimeout    time.Duration
	closeTimeout   time.Duration
	pollTimeout    time.Duration
	pingInterval   time.Duration

	senderQueueSize  int
	receiveQueueSize int

	initialRetryDelay time.Duration
	maxRetryDelay     time.Duration

	logger logger.Logger
}

// NewConnectionConfig creates a remote connection configuration.
//
// rawURL is the base URL of the service with one of the schemes ws, wss, http
// or https; the scheme is rewritten to match the transport mode and the
// encryption setting. connectName is the identity announced to the service.
func NewConnectionConfig(rawURL string, connectName string, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		deviceName:        DefaultDeviceName,
		transportMode:     TransportWebSocket,
		connectTimeout:    DefaultConnectTimeout,
		sendTimeout:       DefaultSendTimeout,
		closeTimeout:      DefaultCloseTimeout,
		pollTimeout:       DefaultPollTimeout,
		pingInterval:      DefaultPingInterval,
		senderQueueSize:   DefaultSenderQueueSize,
		receiveQueueSize:  DefaultReceiveQueueSize,
		initialRetryDelay: DefaultInitialRetryDelay,
		maxRetryDelay:     DefaultMaxRetryDelay,
		logger:            logger.GetLogger(),
	}

	if err := cfg.setURL(rawURL); err != nil {
		return nil, err
	}

	connectName = strings.TrimSpace(connectName)
	if connectName == "" {
		return nil, errors.New("remote: connect name must not be empty")
	}
	cfg.connectName = connectName

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (cfg *ConnectionConfig) setURL(rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("remote: invalid url %q: %w", rawURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "http":
	case "wss", "https":
		cfg.encryption = true
	default:
		return fmt.Errorf("remote: unsupported url scheme %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("remote: url %q has no host", rawURL)
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	cfg.baseURL = u

	return nil
}

// --- Getters ---

// ConnectName returns the identity announced to the service.
func (cfg *ConnectionConfig) ConnectName() string { return cfg.connectName }

// NetworkNames returns a copy of the network names announced to the service.
func (cfg *ConnectionConfig) NetworkNames() []string {
	if len(cfg.networkNames) == 0 {
		return nil
	}

	return append([]string(nil), cfg.networkNames...)
}

// DeviceName returns the device name announced to the service.
func (cfg *ConnectionConfig) DeviceName() string { return cfg.deviceName }

// Encryption reports whether TLS is used.
func (cfg *ConnectionConfig) Encryption() bool { return cfg.encryption }

// TransportMode returns the selected transport.
func (cfg *ConnectionConfig) TransportMode() TransportMode { return cfg.transportMode }

// ConnectTimeout returns the timeout of dial plus handshake.
func (cfg *ConnectionConfig) ConnectTimeout() time.Duration { return cfg.connectTimeout }

// SendTimeout returns how long Send waits for room in the sender queue, and the write timeout of one frame.
func (cfg *ConnectionConfig) SendTimeout() time.Duration { return cfg.sendTimeout }

// CloseTimeout returns how long Disconnect waits for the connection loop to stop.
func (cfg *ConnectionConfig) CloseTimeout() time.Duration { return cfg.closeTimeout }

// PollTimeout returns how long the service may hold one long poll.
func (cfg *ConnectionConfig) PollTimeout() time.Duration { return cfg.pollTimeout }

// PingInterval returns the WebSocket keepalive interval.
func (cfg *ConnectionConfig) PingInterval() time.Duration { return cfg.pingInterval }

// GetLogger returns the configured logger.
func (cfg *ConnectionConfig) GetLogger() logger.Logger { return cfg.logger }

// WebSocketURL returns the WebSocket endpoint of the service.
func (cfg *ConnectionConfig) WebSocketURL() string {
	scheme := "ws"
	if cfg.encryption {
		scheme = "wss"
	}

	return cfg.endpoint(scheme, WebSocketPath)
}

// LongPollURL returns the long polling endpoint for the given operation
// ("connect", "send", "poll" or "disconnect").
func (cfg *ConnectionConfig) LongPollURL(op string) string {
	scheme := "http"
	if cfg.encryption {
		scheme = "https"
	}

	return cfg.endpoint(scheme, LongPollPath+"/"+op)
}

func (cfg *ConnectionConfig) endpoint(scheme string, path string) string {
	u := *cfg.baseURL
	u.Scheme = scheme
	u.Path += path

	return u.String()
}

// --- ConnOption ---

// ConnOption is a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc func(*ConnectionConfig) error

func (f connOptFunc) apply(cfg *ConnectionConfig) error { return f(cfg) }

// WithPassword sets the credential announced with the connect name.
func WithPassword(password string) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.password = password
		return nil
	})
}

// WithNetworkNames sets the networks the device joins. Empty names are skipped.
func WithNetworkNames(names ...string) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.networkNames = cfg.networkNames[:0]
		for _, name := range names {
			if name = strings.TrimSpace(name); name != "" {
				cfg.networkNames = append(cfg.networkNames, name)
			}
		}

		return nil
	})
}

// WithDeviceName sets the device name announced to the service.
func WithDeviceName(name string) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return errors.New("remote: device name must not be empty")
		}
		cfg.deviceName = name

		return nil
	})
}

// WithEncryption enables or disables TLS regardless of the scheme of the base URL.
func WithEncryption(enabled bool) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		cfg.encryption = enabled
		return nil
	})
}

// WithTransportMode selects the wire transport. WebSocket is the default.
func WithTransportMode(mode TransportMode) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		switch mode {
		case TransportWebSocket, TransportLongPolling:
			cfg.transportMode = mode
			return nil
		default:
			return fmt.Errorf("remote: unknown transport mode %d", mode)
		}
	})
}

// WithConnectTimeout sets the timeout of dial plus handshake.
func WithConnectTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("remote: connect timeout must be positive")
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithSendTimeout sets the send timeout.
func WithSendTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("remote: send timeout must be positive")
		}
		cfg.sendTimeout = d

		return nil
	})
}

// WithCloseTimeout sets how long Disconnect waits for the connection loop.
func WithCloseTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("remote: close timeout must be positive")
		}
		cfg.closeTimeout = d

		return nil
	})
}

// WithPollTimeout sets how long the service may hold one long poll.
func WithPollTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < 100*time.Millisecond {
			return errors.New("remote: poll timeout must be at least 100ms")
		}
		cfg.pollTimeout = d

		return nil
	})
}

// WithPingInterval sets the WebSocket keepalive interval.
func WithPingInterval(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("remote: ping interval must be positive")
		}
		cfg.pingInterval = d

		return nil
	})
}

// WithSenderQueueSize sets the capacity of the outgoing frame queue.
func WithSenderQueueSize(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < 1 {
			return errors.New("remote: sender queue size must be positive")
		}
		cfg.senderQueueSize = n

		return nil
	})
}

// WithReconnectBackoff sets the first reconnect delay and its upper bound.
// The delay doubles after every failed attempt.
func WithReconnectBackoff(initial, maxDelay time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if initial <= 0 || maxDelay < initial {
			return fmt.Errorf("remote: invalid reconnect backoff %v..%v", initial, maxDelay)
		}
		cfg.initialRetryDelay = initial
		cfg.maxRetryDelay = maxDelay

		return nil
	})
}

// WithLogger sets the logger of the channel.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("remote: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
