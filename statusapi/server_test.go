package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-serialbridge/bridge"
)

type staticProvider struct {
	status bridge.Status
}

func (p *staticProvider) Status() bridge.Status { return p.status }

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()

	provider := &staticProvider{status: bridge.Status{
		State:           "Running",
		RemoteConnected: true,
		Outbound:        bridge.OutboundStatus{BatchesSent: 3, BytesSent: 12},
	}}

	s, err := NewServer("127.0.0.1:0", provider, hub, WithPingInterval(50*time.Millisecond))
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return ts
}

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func readLine(t *testing.T, conn *websocket.Conn) string {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, typ)

	return string(data)
}

func TestNewServer_Invalid(t *testing.T) {
	_, err := NewServer(":0", nil, NewHub())
	require.Error(t, err)

	_, err = NewServer(":0", &staticProvider{}, nil)
	require.Error(t, err)
}

func TestServer_Status(t *testing.T) {
	require := require.New(t)
	ts := newTestServer(t, NewHub())

	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(err)
	defer resp.Body.Close()

	require.Equal(http.StatusOK, resp.StatusCode)
	require.Equal("application/json", resp.Header.Get("Content-Type"))

	var st bridge.Status
	require.NoError(json.NewDecoder(resp.Body).Decode(&st))
	require.Equal("Running", st.State)
	require.True(st.RemoteConnected)
	require.Equal(uint64(3), st.Outbound.BatchesSent)
}

func TestServer_StatusMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, NewHub())

	resp, err := http.Post(ts.URL+"/api/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_StatusStream(t *testing.T) {
	require := require.New(t)

	hub := NewHub()
	ts := newTestServer(t, hub)
	conn := dialStream(t, ts)

	require.Eventually(func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(bridge.StatusConnected)
	require.Equal(bridge.StatusConnected, readLine(t, conn))

	hub.Publish(bridge.StatusDisconnected)
	require.Equal(bridge.StatusDisconnected, readLine(t, conn))

	require.NoError(conn.Close())
	require.Eventually(func() bool { return hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_StatusStreamReplaysLastLine(t *testing.T) {
	hub := NewHub()
	hub.Publish(bridge.StatusConnected)

	ts := newTestServer(t, hub)
	conn := dialStream(t, ts)

	require.Equal(t, bridge.StatusConnected, readLine(t, conn))
}

func TestServer_StartShutdown(t *testing.T) {
	require := require.New(t)

	s, err := NewServer("127.0.0.1:0", &staticProvider{}, NewHub())
	require.NoError(err)

	require.NoError(s.Start())
	require.Error(s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/api/status")
	require.NoError(err)
	resp.Body.Close()
	require.Equal(http.StatusOK, resp.StatusCode)

	require.NoError(s.Shutdown(t.Context()))
	require.NoError(s.Shutdown(t.Context()))
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	require := require.New(t)

	hub := NewHub()
	id, lines := hub.Subscribe()

	for range subscriberBufferSize * 2 {
		hub.Publish("line")
	}
	require.Len(lines, subscriberBufferSize)
	require.Equal("line", hub.Last())

	hub.Unsubscribe(id)
	require.Zero(hub.Subscribers())
	hub.Publish("after")
	require.Len(lines, subscriberBufferSize)
}
