package serialport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-serialbridge/logger"
)

// Default values of a serial port configuration.
const (
	DefaultBaudRate       = 115200
	DefaultDataBits       = 8
	DefaultStopBits       = 1
	DefaultParity         = ParityNone
	DefaultReadTimeout    = 250 * time.Millisecond
	DefaultReadBufferSize = 1
)

// Range limits of the tunable values.
const (
	MinReadTimeout    = 10 * time.Millisecond
	MaxReadTimeout    = 10 * time.Second
	MaxReadBufferSize = 64 * 1024
)

// closeMargin is added to the read timeout to bound how long Close waits for the read loop.
const closeMargin = 250 * time.Millisecond

// Parity is the parity mode of a serial line.
type Parity byte

const (
	ParityNone Parity = 'N'
	ParityEven Parity = 'E'
	ParityOdd  Parity = 'O'
)

func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityEven:
		return "even"
	case ParityOdd:
		return "odd"
	default:
		return "unknown"
	}
}

// ParseParity maps the single-letter codes N/E/O (any case) to a Parity.
func ParseParity(code string) (Parity, error) {
	switch strings.TrimSpace(code) {
	case "N", "n":
		return ParityNone, nil
	case "E", "e":
		return ParityEven, nil
	case "O", "o":
		return ParityOdd, nil
	default:
		return 0, &ConfigError{Field: "parity", Value: code}
	}
}

// Config holds the settings used to open a serial port.
//
// A Config is safe for concurrent use. Once a Channel using it has been opened
// every setter fails with ErrConfigFrozen.
type Config struct {
	mu sync.RWMutex

	name     string
	baudRate int
	parity   Parity
	dataBits int
	stopBits int

	readTimeout    time.Duration
	readBufferSize int

	opener OpenFunc
	logger logger.Logger

	frozen bool
}

// NewConfig creates a serial port configuration for the named device
// (e.g. "/dev/ttyUSB0" or "COM3") with the defaults 115200/none/8/1.
//
// opts are functional options applied in order; see With* functions.
func NewConfig(name string, opts ...ConfigOption) (*Config, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("serialport: port name must not be empty")
	}

	cfg := &Config{
		name:           name,
		baudRate:       DefaultBaudRate,
		parity:         DefaultParity,
		dataBits:       DefaultDataBits,
		stopBits:       DefaultStopBits,
		readTimeout:    DefaultReadTimeout,
		readBufferSize: DefaultReadBufferSize,
		opener:         openTarmPort,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// Name returns the OS device name.
func (cfg *Config) Name() string { return cfg.name }

// BaudRate returns the line speed.
func (cfg *Config) BaudRate() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.baudRate
}

// Parity returns the parity mode.
func (cfg *Config) Parity() Parity {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.parity
}

// DataBits returns the number of data bits per character.
func (cfg *Config) DataBits() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.dataBits
}

// StopBits returns the number of stop bits.
func (cfg *Config) StopBits() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.stopBits
}

// ReadTimeout returns the timeout of one read of the read loop.
func (cfg *Config) ReadTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readTimeout
}

// ReadBufferSize returns the maximum number of bytes requested by one read.
func (cfg *Config) ReadBufferSize() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readBufferSize
}

// CloseTimeout returns how long Close waits for the read loop to notice cancellation.
func (cfg *Config) CloseTimeout() time.Duration {
	return cfg.ReadTimeout() + closeMargin
}

// IsFrozen reports whether the configuration has been frozen by an Open.
func (cfg *Config) IsFrozen() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.frozen
}

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

func (cfg *Config) String() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return fmt.Sprintf("%s %d/%s/%d/%d", cfg.name, cfg.baudRate, cfg.parity, cfg.dataBits, cfg.stopBits)
}

func (cfg *Config) freeze() {
	cfg.mu.Lock()
	cfg.frozen = true
	cfg.mu.Unlock()
}

// update runs fn under the write lock unless the configuration is frozen.
func (cfg *Config) update(fn func() error) error {
	cfg.mu.Lock()
	defer cfg.mu.Unlock()

	if cfg.frozen {
		return ErrConfigFrozen
	}

	return fn()
}

// --- Permissive code setters ---

// ApplyParityCode sets the parity from a settings code: N/n none, E/e even, O/o odd.
// Any other code leaves the current parity in place and is reported as a *ConfigError.
func (cfg *Config) ApplyParityCode(code string) error {
	return cfg.update(func() error {
		p, err := ParseParity(code)
		if err != nil {
			return err
		}
		cfg.parity = p

		return nil
	})
}

// ApplyDataBitsCode sets the data bits from a settings code, "7" or "8".
// Any other code leaves the current value in place and is reported as a *ConfigError.
func (cfg *Config) ApplyDataBitsCode(code string) error {
	return cfg.update(func() error {
		n, err := strconv.Atoi(strings.TrimSpace(code))
		if err != nil || !validDataBits(n) {
			return &ConfigError{Field: "data bits", Value: code}
		}
		cfg.dataBits = n

		return nil
	})
}

// ApplyStopBitsCode sets the stop bits from a settings code, "1" or "2".
// Any other code leaves the current value in place and is reported as a *ConfigError.
func (cfg *Config) ApplyStopBitsCode(code string) error {
	return cfg.update(func() error {
		n, err := strconv.Atoi(strings.TrimSpace(code))
		if err != nil || !validStopBits(n) {
			return &ConfigError{Field: "stop bits", Value: code}
		}
		cfg.stopBits = n

		return nil
	})
}

// ApplyBaudRateCode sets the baud rate from a settings code holding a positive integer.
// Any other code leaves the current value in place and is reported as a *ConfigError.
func (cfg *Config) ApplyBaudRateCode(code string) error {
	return cfg.update(func() error {
		n, err := strconv.Atoi(strings.TrimSpace(code))
		if err != nil || n <= 0 {
			return &ConfigError{Field: "baud rate", Value: code}
		}
		cfg.baudRate = n

		return nil
	})
}

func validDataBits(n int) bool { return n == 7 || n == 8 }

func validStopBits(n int) bool { return n == 1 || n == 2 }

// --- ConfigOption ---

// ConfigOption is a functional option for configuring a Config.
type ConfigOption interface {
	apply(*Config) error
}

type configOptFunc func(*Config) error

func (f configOptFunc) apply(cfg *Config) error { return f(cfg) }

// WithBaudRate sets the line speed. Must be positive.
func WithBaudRate(baud int) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		if baud <= 0 {
			return &ConfigError{Field: "baud rate", Value: strconv.Itoa(baud)}
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithParity sets the parity mode.
func WithParity(p Parity) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		switch p {
		case ParityNone, ParityEven, ParityOdd:
			cfg.parity = p
			return nil
		default:
			return &ConfigError{Field: "parity", Value: string(rune(p))}
		}
	})
}

// WithDataBits sets the number of data bits, 7 or 8.
func WithDataBits(n int) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		if !validDataBits(n) {
			return &ConfigError{Field: "data bits", Value: strconv.Itoa(n)}
		}
		cfg.dataBits = n

		return nil
	})
}

// WithStopBits sets the number of stop bits, 1 or 2.
func WithStopBits(n int) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		if !validStopBits(n) {
			return &ConfigError{Field: "stop bits", Value: strconv.Itoa(n)}
		}
		cfg.stopBits = n

		return nil
	})
}

// WithReadTimeout sets the timeout of one read. It also bounds how quickly Close returns.
func WithReadTimeout(d time.Duration) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		if d < MinReadTimeout || d > MaxReadTimeout {
			return fmt.Errorf("serialport: read timeout %v out of range [%v, %v]", d, MinReadTimeout, MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithReadBufferSize sets the maximum number of bytes requested by one read.
func WithReadBufferSize(n int) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		if n < 1 || n > MaxReadBufferSize {
			return fmt.Errorf("serialport: read buffer size %d out of range [1, %d]", n, MaxReadBufferSize)
		}
		cfg.readBufferSize = n

		return nil
	})
}

// WithOpener replaces the function used to acquire the OS handle.
func WithOpener(fn OpenFunc) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		if fn == nil {
			return errors.New("serialport: opener must not be nil")
		}
		cfg.opener = fn

		return nil
	})
}

// WithLogger sets the logger of the channel.
func WithLogger(l logger.Logger) ConfigOption {
	return configOptFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("serialport: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
