package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// PollClient is a Channel that posts frames over HTTP and long polls for
// incoming frames. It is used where WebSocket connections are blocked.
type PollClient struct {
	*client
}

var _ Channel = (*PollClient)(nil)

// NewPollClient creates a long polling channel. Its goroutines observe ctx.
func NewPollClient(ctx context.Context, cfg *ConnectionConfig) (*PollClient, error) {
	c, err := newClient(ctx, cfg, dialLongPoll)
	if err != nil {
		return nil, err
	}

	return &PollClient{client: c}, nil
}

type pollTransport struct {
	cfg     *ConnectionConfig
	http    *http.Client
	session string
}

func dialLongPoll(ctx context.Context, cfg *ConnectionConfig) (transport, error) {
	t := &pollTransport{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.pollTimeout + cfg.connectTimeout},
	}

	var reply Frame
	status, err := t.post(ctx, cfg.LongPollURL("connect"), newConnectFrame(cfg), &reply)
	if err != nil {
		return nil, fmt.Errorf("remote: connect: %w", err)
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if reply.Type == "" {
			reply.Type = FrameError
		}
	} else if status != http.StatusOK {
		return nil, fmt.Errorf("remote: connect: unexpected status %d", status)
	}

	if err := checkConnectReply(&reply); err != nil {
		return nil, err
	}
	if reply.Session == "" {
		return nil, fmt.Errorf("%w: connected reply without session", ErrUnexpectedFrame)
	}
	t.session = reply.Session

	return t, nil
}

func (t *pollTransport) sessionURL(op string) string {
	return t.cfg.LongPollURL(op) + "?session=" + url.QueryEscape(t.session)
}

func (t *pollTransport) send(ctx context.Context, f *Frame) error {
	status, err := t.post(ctx, t.sessionURL("send"), f, nil)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrSessionLost
	default:
		return fmt.Errorf("remote: send: unexpected status %d", status)
	}
}

func (t *pollTransport) receive(ctx context.Context) ([]*Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.sessionURL("poll"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Poll-Timeout", t.cfg.pollTimeout.String())

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	case http.StatusNotFound:
		return nil, ErrSessionLost
	case http.StatusOK:
	default:
		return nil, fmt.Errorf("remote: poll: unexpected status %d", resp.StatusCode)
	}

	var frames []*Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, fmt.Errorf("remote: decode poll response: %w", err)
	}

	return frames, nil
}

func (t *pollTransport) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.closeTimeout)
	defer cancel()

	_, err := t.post(ctx, t.sessionURL("disconnect"), nil, nil)

	return err
}

// post sends body as JSON and decodes a JSON reply into out when out is not nil.
func (t *pollTransport) post(ctx context.Context, target string, body any, out any) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.ContentLength != 0 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("decode reply: %w", err)
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
