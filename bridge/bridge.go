// Package bridge relays bytes between a serial channel and a remote channel.
//
// Bytes read from the serial line are appended to an outbound.Aggregator,
// which sends them to the remote channel in batches. Messages received from
// the remote channel are written back to the serial line. The Bridge owns the
// lifecycle of both sides:
//
//	Created → Starting → Running → Stopping → Stopped
//
// Stop can be called from any goroutine, including a signal handler, and any
// number of times. When the serial read loop fails, the bridge stops itself;
// Done is then closed and Err reports the read error.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-serialbridge/internal/task"
	"github.com/arloliu/go-serialbridge/logger"
	"github.com/arloliu/go-serialbridge/outbound"
	"github.com/arloliu/go-serialbridge/remote"
	"github.com/arloliu/go-serialbridge/serialport"
	"github.com/arloliu/go-serialbridge/textcodec"
)

// Status lines published on remote connection changes.
const (
	StatusConnected    = "Connection successful"
	StatusDisconnected = "Connection failed"
)

// ErrInvalidState is returned by Start when the bridge was already started.
var ErrInvalidState = errors.New("bridge: invalid state")

// Serial is the serial side of a bridge. *serialport.Channel implements it.
type Serial interface {
	Open() error
	Close() error
	Write(p []byte) (int, error)
	SetReceiveHandler(h serialport.ReceiveHandler)
	Done() <-chan struct{}
	Err() error
}

// Bridge wires a Serial to a remote.Channel.
type Bridge struct {
	serial  Serial
	remote  remote.Channel
	agg     *outbound.Aggregator
	opts    *options
	logger  logger.Logger
	taskMgr *task.Manager

	state           AtomicState
	remoteConnected atomic.Bool
	startedAt       atomic.Pointer[time.Time]
	metrics         Metrics

	lifeMu   sync.Mutex // serializes Start and Stop
	done     chan struct{}
	doneOnce sync.Once
	err      atomic.Pointer[error]
}

// New creates a bridge between serial and rc. The bridge's goroutines observe ctx.
func New(ctx context.Context, serial Serial, rc remote.Channel, opts ...Option) (*Bridge, error) {
	if serial == nil {
		return nil, errors.New("bridge: serial channel must not be nil")
	}
	if rc == nil {
		return nil, errors.New("bridge: remote channel must not be nil")
	}

	o := &options{
		flushInterval: outbound.DefaultFlushInterval,
		codec:         textcodec.Passthrough,
		logger:        logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	agg, err := outbound.NewAggregator(ctx, rc,
		outbound.WithFlushInterval(o.flushInterval),
		outbound.WithDataType(o.dataType),
		outbound.WithCodec(o.codec),
		outbound.WithLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	l := o.logger.With("component", "bridge")

	return &Bridge{
		serial:  serial,
		remote:  rc,
		agg:     agg,
		opts:    o,
		logger:  l,
		taskMgr: task.NewManager(ctx, l),
		done:    make(chan struct{}),
	}, nil
}

// State returns the lifecycle state.
func (b *Bridge) State() State { return b.state.Get() }

// Aggregator returns the outbound aggregator owned by the bridge.
func (b *Bridge) Aggregator() *outbound.Aggregator { return b.agg }

// GetMetrics returns the metrics of the inbound path.
func (b *Bridge) GetMetrics() *Metrics { return &b.metrics }

// Done returns a channel that is closed when the bridge reaches Stopped.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Err returns the error that stopped the bridge: the serial read error that
// ended the read loop, the error the remote channel gave up with, or the
// error that made Start fail. It is nil after a regular Stop.
func (b *Bridge) Err() error {
	if e := b.err.Load(); e != nil {
		return *e
	}

	return nil
}

// Start wires the handlers, opens the serial channel, connects the remote
// channel and starts the flush loop.
//
// A serial open failure is returned unchanged (a *serialport.OpenError for a
// serialport.Channel) and leaves the bridge Stopped. Start does not wait for
// the remote channel to be connected.
func (b *Bridge) Start() error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if !b.state.ToStarting() {
		return fmt.Errorf("%w: cannot start in state %s", ErrInvalidState, b.state.String())
	}

	b.serial.SetReceiveHandler(b.agg.Append)
	b.remote.OnReceive(b.handleRemoteMessage)
	b.remote.OnConnectionStatusChanged(b.handleConnectionStatus)

	if err := b.serial.Open(); err != nil {
		b.logger.Error("failed to open serial port", "error", err)
		b.finish(err)

		return err
	}

	if err := b.remote.Connect(); err != nil {
		_ = b.serial.Close()
		err = fmt.Errorf("bridge: connect remote: %w", err)
		b.finish(err)

		return err
	}

	if err := b.agg.Start(); err != nil {
		_ = b.remote.Disconnect()
		_ = b.serial.Close()
		b.finish(err)

		return err
	}

	if err := b.taskMgr.Start("bridgeWatchdog", b.watch); err != nil {
		b.agg.Stop()
		_ = b.remote.Disconnect()
		_ = b.serial.Close()
		err = fmt.Errorf("bridge: start watchdog: %w", err)
		b.finish(err)

		return err
	}

	now := time.Now()
	b.startedAt.Store(&now)
	b.state.ToRunning()
	b.logger.Info("bridge started", "dataType", b.opts.dataType, "flushInterval", b.opts.flushInterval)

	return nil
}

// Stop stops the flush loop, disconnects the remote channel and closes the
// serial channel. Calls on a bridge that is not running return nil.
func (b *Bridge) Stop() error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	if !b.state.ToStopping() {
		return nil
	}

	b.logger.Info("stopping bridge")

	b.agg.Stop()
	b.taskMgr.Stop()

	var errs []error
	if err := b.remote.Disconnect(); err != nil {
		b.logger.Warn("failed to disconnect remote channel", "error", err)
		errs = append(errs, err)
	}

	if err := b.serial.Close(); err != nil {
		b.logger.Warn("failed to close serial port", "error", err)
		errs = append(errs, err)
	}

	b.taskMgr.Wait()
	b.finish(nil)
	b.logger.Info("bridge stopped")

	return errors.Join(errs...)
}

// finish records err, moves to Stopped and closes Done.
func (b *Bridge) finish(err error) {
	if err != nil {
		b.err.CompareAndSwap(nil, &err)
	}
	b.state.ToStopped()
	b.doneOnce.Do(func() { close(b.done) })
}

// watch waits for the serial read loop or the remote connection loop to end
// on its own. Either failure stops the bridge.
func (b *Bridge) watch() bool {
	var err error

	select {
	case <-b.taskMgr.Context().Done():
		return false

	case <-b.serial.Done():
		if err = b.serial.Err(); err == nil {
			return false
		}
		b.logger.Error("serial read loop failed, stopping bridge", "error", err)

	case <-b.remote.Done():
		if err = b.remote.Err(); err == nil {
			return false
		}
		b.logger.Error("remote channel gave up, stopping bridge", "error", err)
	}

	b.err.CompareAndSwap(nil, &err)

	// Stop waits for this task, so it must run elsewhere.
	go func() { _ = b.Stop() }()

	return false
}

func (b *Bridge) handleRemoteMessage(msg *remote.Message) {
	b.metrics.incInboundMsgCount()

	payload, err := b.opts.codec.Encode(msg.Payload)
	if err != nil {
		b.logger.Warn("charset encode failed, writing raw payload", "charset", b.opts.codec.Name(), "error", err)
		payload = msg.Payload
	}

	if _, err := b.serial.Write(payload); err != nil {
		b.metrics.incSerialWriteErrCount()
		b.logger.Warn("failed to write remote message to serial port", "from", msg.Sender, "error", err)

		return
	}

	b.metrics.addInboundBytes(len(payload))
}

func (b *Bridge) handleConnectionStatus(connected bool) {
	b.remoteConnected.Store(connected)
	b.metrics.incStatusChangeCount()

	line := StatusDisconnected
	if connected {
		line = StatusConnected
	}

	b.logger.Info(line, "remoteConnected", connected)

	if b.opts.publisher != nil {
		b.opts.publisher.Publish(line)
	}
}
