package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-serialbridge/internal/task"
	"github.com/arloliu/go-serialbridge/logger"
)

// ReceiveHandler consumes bytes read from the device.
//
// It runs synchronously on the read-loop goroutine, before the next read is
// issued, so a slow handler delays reading. data is only valid for the
// duration of the call; a handler that keeps the bytes must copy them.
type ReceiveHandler func(data []byte)

// Channel is a serial port with a dedicated read loop.
type Channel struct {
	cfg     *Config
	logger  logger.Logger
	taskMgr *task.Manager

	opState AtomicOpState
	metrics ChannelMetrics

	portMu sync.RWMutex // protects port; writers hold the read lock
	port   Port

	handler atomic.Pointer[ReceiveHandler]

	lifeMu  sync.Mutex // protects done
	done    chan struct{}
	readErr atomic.Pointer[ReadError]
}

// NewChannel creates a closed channel for the device described by cfg.
// The channel's goroutines observe ctx; cancelling it ends the read loop.
func NewChannel(ctx context.Context, cfg *Config) (*Channel, error) {
	if cfg == nil {
		return nil, errors.New("serialport: config must not be nil")
	}

	l := cfg.GetLogger().With("component", "serial", "port", cfg.Name())

	return &Channel{
		cfg:     cfg,
		logger:  l,
		taskMgr: task.NewManager(ctx, l),
		done:    make(chan struct{}),
	}, nil
}

// Config returns the configuration of the channel.
func (c *Channel) Config() *Config { return c.cfg }

// Name returns the OS device name.
func (c *Channel) Name() string { return c.cfg.Name() }

// State returns the lifecycle state.
func (c *Channel) State() OpState { return c.opState.Get() }

// IsOpen reports whether the channel is open.
func (c *Channel) IsOpen() bool { return c.opState.IsOpened() }

// GetMetrics returns the metrics of the channel.
func (c *Channel) GetMetrics() *ChannelMetrics { return &c.metrics }

// SetReceiveHandler registers the single consumer of received bytes,
// replacing any previous one. A nil handler discards received bytes.
//
// See ReceiveHandler for the calling contract.
func (c *Channel) SetReceiveHandler(h ReceiveHandler) {
	if h == nil {
		c.handler.Store(nil)
		return
	}
	c.handler.Store(&h)
}

// Open acquires the OS handle with the stored configuration and starts the read loop.
//
// On success the configuration is frozen. A failure to acquire the
// handle is returned as a *OpenError and leaves the channel closed.
func (c *Channel) Open() error {
	if !c.opState.ToOpening() {
		return ErrAlreadyOpen
	}

	// a Close that timed out leaves the read loop draining; wait for it again
	if c.taskMgr.Context().Err() != nil && !c.taskMgr.WaitTimeout(c.cfg.CloseTimeout()) {
		c.opState.Set(ClosedState)
		return ErrReadLoopBusy
	}

	port, err := c.cfg.opener(c.cfg)
	if err != nil {
		c.opState.Set(ClosedState)
		return &OpenError{Port: c.cfg.Name(), Err: err}
	}
	c.cfg.freeze()

	c.portMu.Lock()
	c.port = port
	c.portMu.Unlock()

	done := make(chan struct{})
	c.lifeMu.Lock()
	c.done = done
	c.lifeMu.Unlock()
	c.readErr.Store(nil)

	err = c.taskMgr.StartReader("serialReadLoop", c.cfg.ReadBufferSize(), c.readIteration, func() {
		close(done)
	})
	if err != nil {
		c.releasePort()
		c.opState.Set(ClosedState)

		return fmt.Errorf("serialport: start read loop: %w", err)
	}

	c.opState.ToOpened()
	c.logger.Info("serial port opened", "config", c.cfg.String())

	return nil
}

// Close stops the read loop and releases the OS handle.
//
// Close waits for the pending read to time out, bounded by Config.CloseTimeout,
// before closing the handle. When the read does not return in time the handle
// is closed anyway and the next Open waits for the read loop once more.
// Calling Close on a closed channel is a no-op.
func (c *Channel) Close() error {
	if !c.opState.ToClosing() {
		return nil
	}
	defer c.opState.ToClosed()

	c.taskMgr.Stop()
	if !c.taskMgr.WaitTimeout(c.cfg.CloseTimeout()) {
		c.logger.Warn("read loop did not stop in time, closing port anyway", "timeout", c.cfg.CloseTimeout())
	}

	err := c.releasePort()
	if err != nil {
		c.logger.Warn("failed to close serial port", "error", err)
		return fmt.Errorf("serialport: close %s: %w", c.cfg.Name(), err)
	}

	c.logger.Info("serial port closed")

	return nil
}

// Write writes p to the device.
//
// When the channel is not open, Write does nothing and returns (0, nil).
func (c *Channel) Write(p []byte) (int, error) {
	if !c.opState.IsOpened() {
		c.metrics.incDroppedWriteCount()
		c.logger.Debug("write on closed channel ignored", "len", len(p))

		return 0, nil
	}

	c.portMu.RLock()
	defer c.portMu.RUnlock()

	if c.port == nil {
		c.metrics.incDroppedWriteCount()
		return 0, nil
	}

	n, err := c.port.Write(p)
	c.metrics.addBytesSend(n)
	if err != nil {
		c.metrics.incWriteErrCount()
		return n, fmt.Errorf("serialport: write %s: %w", c.cfg.Name(), err)
	}

	return n, nil
}

// Done returns a channel that is closed when the current read loop ends,
// either because of Close or because of a fatal read error.
func (c *Channel) Done() <-chan struct{} {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	return c.done
}

// Err returns the *ReadError that ended the last read loop, or nil.
func (c *Channel) Err() error {
	if e := c.readErr.Load(); e != nil {
		return e
	}

	return nil
}

func (c *Channel) releasePort() error {
	c.portMu.Lock()
	port := c.port
	c.port = nil
	c.portMu.Unlock()

	if port == nil {
		return nil
	}

	return port.Close()
}

func (c *Channel) readIteration(buf []byte) bool {
	c.portMu.RLock()
	port := c.port
	c.portMu.RUnlock()

	if port == nil {
		return false
	}

	n, err := port.Read(buf)
	if n > 0 {
		c.metrics.addBytesRecv(n)
		c.deliver(buf[:n])
	}

	if err == nil || isReadTimeout(err) {
		return true
	}

	if c.taskMgr.Context().Err() != nil {
		return false
	}

	c.metrics.incReadErrCount()
	c.readErr.Store(&ReadError{Port: c.cfg.Name(), Err: err})
	c.logger.Error("serial read failed", "error", err)

	return false
}

func (c *Channel) deliver(data []byte) {
	h := c.handler.Load()
	if h == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in receive handler", "panic", r)
		}
	}()

	(*h)(data)
}

// isReadTimeout reports whether err only means that no byte arrived in time.
func isReadTimeout(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var te interface{ Timeout() bool }

	return errors.As(err, &te) && te.Timeout()
}
