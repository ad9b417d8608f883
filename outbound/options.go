package outbound

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-serialbridge/logger"
	"github.com/arloliu/go-serialbridge/textcodec"
)

const (
	DefaultFlushInterval = 10 * time.Millisecond

	MinFlushInterval = time.Millisecond
	MaxFlushInterval = 10 * time.Second
)

type options struct {
	flushInterval time.Duration
	dataType      string
	codec         *textcodec.Codec
	flushOnStop   bool
	logger        logger.Logger
}

func defaultOptions() *options {
	return &options{
		flushInterval: DefaultFlushInterval,
		codec:         textcodec.Passthrough,
		flushOnStop:   true,
		logger:        logger.GetLogger(),
	}
}

// Option is a functional option for configuring an Aggregator.
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(o *options) error { return f(o) }

// WithFlushInterval sets the period of the flush loop.
func WithFlushInterval(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d < MinFlushInterval || d > MaxFlushInterval {
			return fmt.Errorf("outbound: flush interval %v out of range [%v, %v]", d, MinFlushInterval, MaxFlushInterval)
		}
		o.flushInterval = d

		return nil
	})
}

// WithDataType sets the data-type tag attached to every outgoing message.
func WithDataType(dataType string) Option {
	return optFunc(func(o *options) error {
		o.dataType = dataType
		return nil
	})
}

// WithCodec sets the charset of the serial device. Each batch is decoded to
// UTF-8 before it is sent.
func WithCodec(c *textcodec.Codec) Option {
	return optFunc(func(o *options) error {
		if c == nil {
			return errors.New("outbound: codec must not be nil")
		}
		o.codec = c

		return nil
	})
}

// WithFlushOnStop controls whether Stop sends the bytes still pending. Enabled by default.
func WithFlushOnStop(enabled bool) Option {
	return optFunc(func(o *options) error {
		o.flushOnStop = enabled
		return nil
	})
}

// WithLogger sets the logger of the aggregator.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *options) error {
		if l == nil {
			return errors.New("outbound: logger must not be nil")
		}
		o.logger = l

		return nil
	})
}
