package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient is a Channel that exchanges JSON frames over a WebSocket connection.
type WSClient struct {
	*client
}

var _ Channel = (*WSClient)(nil)

// NewWSClient creates a WebSocket channel. Its goroutines observe ctx.
func NewWSClient(ctx context.Context, cfg *ConnectionConfig) (*WSClient, error) {
	c, err := newClient(ctx, cfg, dialWebSocket)
	if err != nil {
		return nil, err
	}

	return &WSClient{client: c}, nil
}

type wsTransport struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	readTimeout  time.Duration
}

func dialWebSocket(ctx context.Context, cfg *ConnectionConfig) (transport, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.connectTimeout

	conn, _, err := dialer.DialContext(ctx, cfg.WebSocketURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", cfg.WebSocketURL(), err)
	}

	deadline := time.Now().Add(cfg.connectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(newConnectFrame(cfg)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("remote: write connect frame: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	var reply Frame
	if err := conn.ReadJSON(&reply); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("remote: read connect reply: %w", err)
	}

	if err := checkConnectReply(&reply); err != nil {
		_ = conn.Close()
		return nil, err
	}

	t := &wsTransport{
		conn:         conn,
		writeTimeout: cfg.sendTimeout,
		readTimeout:  2 * cfg.pingInterval,
	}

	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	})

	return t, nil
}

// checkConnectReply validates the reply to a connect frame.
func checkConnectReply(reply *Frame) error {
	switch reply.Type {
	case FrameConnected:
		return nil
	case FrameError:
		return fmt.Errorf("%w: %s", ErrAuthFailed, reply.Error)
	default:
		return fmt.Errorf("%w %q during handshake", ErrUnexpectedFrame, reply.Type)
	}
}

func (t *wsTransport) send(ctx context.Context, f *Frame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)

	return t.conn.WriteJSON(f)
}

func (t *wsTransport) receive(_ context.Context) ([]*Frame, error) {
	var f Frame
	if err := t.conn.ReadJSON(&f); err != nil {
		return nil, err
	}
	_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))

	return []*Frame{&f}, nil
}

func (t *wsTransport) ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeTimeout))
}

func (t *wsTransport) close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(t.writeTimeout))

	return t.conn.Close()
}
