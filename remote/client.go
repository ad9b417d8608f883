package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-serialbridge/internal/pool"
	"github.com/arloliu/go-serialbridge/internal/task"
	"github.com/arloliu/go-serialbridge/logger"
)

// transport is one established session with the service.
type transport interface {
	// send writes one frame.
	send(ctx context.Context, f *Frame) error
	// receive blocks until frames arrive, ctx ends or the session fails.
	receive(ctx context.Context) ([]*Frame, error)
	// close releases the session and unblocks a pending receive.
	close() error
}

// pinger is implemented by transports that need an explicit keepalive.
type pinger interface {
	ping() error
}

// dialFunc establishes a session: connect, send the connect frame, wait for
// the connected reply. A rejected connect frame is reported as ErrAuthFailed.
type dialFunc func(ctx context.Context, cfg *ConnectionConfig) (transport, error)

// client is the transport-independent part of a Channel: the reconnect loop,
// the sender queue and the dispatch of received messages to handlers.
type client struct {
	cfg      *ConnectionConfig
	logger   logger.Logger
	dial     dialFunc
	handlers *handlerRegistry
	taskMgr  *task.Manager
	metrics  ConnectionMetrics

	sendQueue chan *Frame
	recvQueue chan *Message

	mu      sync.Mutex // serializes Connect and Disconnect
	running bool
	delay   time.Duration
	lastErr atomic.Pointer[error]

	doneMu   sync.Mutex // protects done and doneOnce
	done     chan struct{}
	doneOnce *sync.Once
}

func newClient(ctx context.Context, cfg *ConnectionConfig, dial dialFunc) (*client, error) {
	if cfg == nil {
		return nil, errors.New("remote: connection config is nil")
	}

	l := cfg.logger.With("component", "remote", "transport", cfg.transportMode.String())

	return &client{
		cfg:       cfg,
		logger:    l,
		dial:      dial,
		handlers:  newHandlerRegistry(),
		taskMgr:   task.NewManager(ctx, l),
		sendQueue: make(chan *Frame, cfg.senderQueueSize),
		recvQueue: make(chan *Message, cfg.receiveQueueSize),
		done:      make(chan struct{}),
		doneOnce:  &sync.Once{},
	}, nil
}

// OnReceive registers a handler for messages received from the service.
// Handlers run on a dispatcher goroutine owned by the channel.
func (c *client) OnReceive(handler func(msg *Message)) {
	c.handlers.addReceive(handler)
}

// OnConnectionStatusChanged registers a handler called on every connected/disconnected transition.
func (c *client) OnConnectionStatusChanged(handler func(connected bool)) {
	c.handlers.addStatus(handler)
}

// IsConnected reports whether a session is currently established.
func (c *client) IsConnected() bool {
	return c.handlers.isConnected()
}

// GetMetrics returns the metrics of the channel.
func (c *client) GetMetrics() *ConnectionMetrics {
	return &c.metrics
}

// Config returns the configuration of the channel.
func (c *client) Config() *ConnectionConfig {
	return c.cfg
}

// Err returns the error that ended the connection loop for good, such as an
// authentication failure, or nil.
func (c *client) Err() error {
	if e := c.lastErr.Load(); e != nil {
		return *e
	}

	return nil
}

// Done returns a channel that is closed when the connection loop gives up
// for good. Connect arms a new one; Disconnect does not close it.
func (c *client) Done() <-chan struct{} {
	c.doneMu.Lock()
	defer c.doneMu.Unlock()

	return c.done
}

// terminate records err and closes Done.
func (c *client) terminate(err error) {
	c.lastErr.Store(&err)

	c.doneMu.Lock()
	done, once := c.done, c.doneOnce
	c.doneMu.Unlock()

	once.Do(func() { close(done) })
}

// Connect starts the connection loop and returns without waiting for the
// session. Calling Connect on a running channel is a no-op.
func (c *client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.lastErr.Store(nil)
	c.delay = c.cfg.initialRetryDelay

	c.doneMu.Lock()
	select {
	case <-c.done:
		c.done = make(chan struct{})
		c.doneOnce = &sync.Once{}
	default:
	}
	c.doneMu.Unlock()

	err := task.StartConsumer[*Message](c.taskMgr, "remoteDispatcher", c.recvQueue, func(msg *Message) bool {
		c.handlers.dispatch(msg)
		return true
	})
	if err != nil {
		return fmt.Errorf("remote: start dispatcher: %w", err)
	}

	if err := c.taskMgr.Start("remoteConnectLoop", c.connectIteration); err != nil {
		c.taskMgr.Stop()
		c.taskMgr.Wait()

		return fmt.Errorf("remote: start connect loop: %w", err)
	}

	c.running = true
	c.logger.Info("remote channel started", "url", c.endpoint())

	return nil
}

// Disconnect ends the current session and stops reconnecting.
// Calling Disconnect on a stopped channel is a no-op.
func (c *client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	c.taskMgr.Stop()
	if !c.taskMgr.WaitTimeout(c.cfg.closeTimeout) {
		c.logger.Error("remote channel did not stop in time", "timeout", c.cfg.closeTimeout)
		return ErrCloseTimeout
	}

	c.setConnected(false)
	c.logger.Info("remote channel stopped")

	return nil
}

// Send queues msg for delivery.
//
// Send returns ErrNotConnected while no session is established and
// ErrSendTimeout when the sender queue stays full for the send timeout.
// A queued message is written by the sender task of the current session.
func (c *client) Send(msg *Message) error {
	if msg == nil {
		return errors.New("remote: message is nil")
	}

	if !c.handlers.isConnected() {
		c.metrics.incSendErrCount()
		return ErrNotConnected
	}

	timer := pool.GetTimer(c.cfg.sendTimeout)
	defer pool.PutTimer(timer)

	select {
	case c.sendQueue <- NewDataFrame(msg):
		return nil
	case <-timer.C:
		c.metrics.incSendErrCount()
		return ErrSendTimeout
	}
}

func (c *client) endpoint() string {
	if c.cfg.transportMode == TransportLongPolling {
		return c.cfg.LongPollURL("")
	}

	return c.cfg.WebSocketURL()
}

func (c *client) setConnected(connected bool) {
	if !c.handlers.setConnected(connected) {
		return
	}

	if connected {
		c.logger.Info("remote connected", "url", c.endpoint())
	} else {
		c.logger.Info("remote disconnected")
	}
}

// connectIteration runs one connection attempt and, when it succeeds, the
// whole session. It returns false when the loop must end.
func (c *client) connectIteration() bool {
	ctx := c.taskMgr.Context()

	c.metrics.incConnRetryGauge()

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.connectTimeout)
	t, err := c.dial(dialCtx, c.cfg)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return false
		}

		c.handlers.notifyFailed()

		if errors.Is(err, ErrAuthFailed) {
			c.logger.Error("remote rejected the connection, giving up", "error", err)
			c.terminate(err)

			return false
		}

		c.logger.Debug("remote connect failed", "error", err, "retryDelay", c.delay)

		return c.backoff(ctx)
	}

	c.metrics.resetConnRetryGauge()
	c.metrics.incConnectCount()
	c.delay = c.cfg.initialRetryDelay

	err = c.serve(ctx, t)
	if ctx.Err() != nil {
		return false
	}

	c.logger.Warn("remote session ended, reconnecting", "error", err)

	return c.backoff(ctx)
}

// backoff waits for the current retry delay and doubles it up to the maximum.
func (c *client) backoff(ctx context.Context) bool {
	timer := pool.GetTimer(c.delay)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	c.delay *= retryDelayFactor
	if c.delay > c.cfg.maxRetryDelay {
		c.delay = c.cfg.maxRetryDelay
	}

	return true
}

// serve runs the sender, receiver and keepalive tasks of one session until
// one of them fails or ctx ends.
func (c *client) serve(ctx context.Context, t transport) error {
	sessMgr := task.NewManager(ctx, c.logger)
	errCh := make(chan error, 1)
	fail := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	c.setConnected(true)
	defer c.setConnected(false)

	err := task.StartConsumer[*Frame](sessMgr, "remoteSender", c.sendQueue, func(f *Frame) bool {
		sendCtx, cancel := context.WithTimeout(sessMgr.Context(), c.cfg.sendTimeout)
		defer cancel()

		if err := t.send(sendCtx, f); err != nil {
			c.metrics.incSendErrCount()
			fail(fmt.Errorf("send: %w", err))

			return false
		}
		c.metrics.incFrameSendCount()

		return true
	})
	if err != nil {
		fail(err)
	}

	err = sessMgr.Start("remoteReceiver", func() bool {
		frames, err := t.receive(sessMgr.Context())
		if err != nil {
			fail(fmt.Errorf("receive: %w", err))
			return false
		}

		for _, f := range frames {
			c.handleFrame(sessMgr.Context(), f)
		}

		return true
	})
	if err != nil {
		fail(err)
	}

	if p, ok := t.(pinger); ok {
		_, err = sessMgr.StartInterval("remotePing", func() bool {
			if err := p.ping(); err != nil {
				fail(fmt.Errorf("ping: %w", err))
				return false
			}

			return true
		}, c.cfg.pingInterval, false)
		if err != nil {
			fail(err)
		}
	}

	var cause error
	select {
	case <-ctx.Done():
		cause = ctx.Err()
	case cause = <-errCh:
	}

	sessMgr.Stop()
	if err := t.close(); err != nil {
		c.logger.Debug("close remote session", "error", err)
	}
	sessMgr.Wait()

	return cause
}

func (c *client) handleFrame(ctx context.Context, f *Frame) {
	switch f.Type {
	case FrameData:
		c.metrics.incFrameRecvCount()
		c.logger.Debug("remote data received", "from", f.From, "dataType", f.DataType, "len", len(f.Data))

		select {
		case c.recvQueue <- f.Message():
		case <-ctx.Done():
		}

	case FrameError:
		c.logger.Warn("remote reported an error", "error", f.Error)

	default:
		c.logger.Debug("ignore remote frame", "type", f.Type)
	}
}
