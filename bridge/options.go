package bridge

import (
	"errors"
	"time"

	"github.com/arloliu/go-serialbridge/logger"
	"github.com/arloliu/go-serialbridge/outbound"
	"github.com/arloliu/go-serialbridge/textcodec"
)

// StatusPublisher receives the user-visible status lines of a bridge.
type StatusPublisher interface {
	Publish(line string)
}

type options struct {
	flushInterval time.Duration
	dataType      string
	codec         *textcodec.Codec
	publisher     StatusPublisher
	logger        logger.Logger
}

// Option is a functional option for configuring a Bridge.
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(o *options) error { return f(o) }

// WithFlushInterval sets the period of the outbound flush loop.
func WithFlushInterval(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d < outbound.MinFlushInterval || d > outbound.MaxFlushInterval {
			return errors.New("bridge: flush interval out of range")
		}
		o.flushInterval = d

		return nil
	})
}

// WithDataType sets the data-type tag of outgoing messages.
func WithDataType(dataType string) Option {
	return optFunc(func(o *options) error {
		o.dataType = dataType
		return nil
	})
}

// WithCodec sets the charset of the serial device. Outgoing batches are
// decoded to UTF-8 and incoming payloads are encoded back before they are
// written to the device.
func WithCodec(c *textcodec.Codec) Option {
	return optFunc(func(o *options) error {
		if c == nil {
			return errors.New("bridge: codec must not be nil")
		}
		o.codec = c

		return nil
	})
}

// WithStatusPublisher sets where status lines are published in addition to the log.
func WithStatusPublisher(p StatusPublisher) Option {
	return optFunc(func(o *options) error {
		o.publisher = p
		return nil
	})
}

// WithLogger sets the logger of the bridge and of the aggregator it owns.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *options) error {
		if l == nil {
			return errors.New("bridge: logger must not be nil")
		}
		o.logger = l

		return nil
	})
}
