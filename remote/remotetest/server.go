// Package remotetest provides an in-process relay service that speaks both
// remote transports (WebSocket and long polling). It is meant for tests and
// local trials, not for production traffic.
package remotetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-serialbridge/logger"
	"github.com/arloliu/go-serialbridge/remote"
)

const (
	defaultPollTimeout = 500 * time.Millisecond
	handshakeTimeout   = 5 * time.Second
	pollQueueSize      = 256
	receivedQueueSize  = 1024
)

// ErrUnknownSession is returned when a session id is not connected.
var ErrUnknownSession = errors.New("remotetest: unknown session")

// DataHandler is called for every data frame received from a client.
type DataHandler func(sessionID string, f *remote.Frame)

// SessionInfo describes a connected client.
type SessionInfo struct {
	ID          string
	ConnectName string
	DeviceName  string
	Networks    []string
	Transport   string
}

// Server is an in-process relay service.
type Server struct {
	router      *mux.Router
	upgrader    websocket.Upgrader
	sessions    *xsync.MapOf[string, *session]
	credentials *xsync.MapOf[string, string]
	received    chan *remote.Frame
	dataHandler atomic.Pointer[DataHandler]
	nextID      atomic.Uint64
	pollTimeout time.Duration
	logger      logger.Logger

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithCredentials only admits the given connect name with the given password.
// Without credentials every client is admitted.
func WithCredentials(connectName, password string) Option {
	return func(s *Server) {
		s.credentials.Store(connectName, password)
	}
}

// WithPollTimeout sets how long a long poll is held when no frame is pending.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.pollTimeout = d
	}
}

// WithLogger sets the logger of the server.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a relay service.
func NewServer(opts ...Option) *Server {
	s := &Server{
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions:    xsync.NewMapOf[string, *session](),
		credentials: xsync.NewMapOf[string, string](),
		received:    make(chan *remote.Frame, receivedQueueSize),
		pollTimeout: defaultPollTimeout,
		logger:      logger.GetLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "remotetest")

	s.router.HandleFunc(remote.WebSocketPath, s.handleWebSocket)

	lp := s.router.PathPrefix(remote.LongPollPath).Subrouter()
	lp.HandleFunc("/connect", s.handlePollConnect).Methods(http.MethodPost)
	lp.HandleFunc("/send", s.handlePollSend).Methods(http.MethodPost)
	lp.HandleFunc("/poll", s.handlePoll).Methods(http.MethodGet)
	lp.HandleFunc("/disconnect", s.handlePollDisconnect).Methods(http.MethodPost)

	return s
}

// Handler returns the HTTP handler of the service, e.g. for httptest.NewServer.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpSrv != nil {
		return errors.New("remotetest: server already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("remotetest: listen %s: %w", addr, err)
	}

	s.listener = ln
	s.httpSrv = &http.Server{Handler: s.router, ReadHeaderTimeout: handshakeTimeout}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "error", err)
		}
	}()

	s.logger.Info("relay service listening", "addr", ln.Addr().String())

	return nil
}

// Addr returns the listening address after Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Shutdown closes every session and stops the HTTP server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.Range(func(id string, _ *session) bool {
		s.Kick(id)
		return true
	})

	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	return srv.Shutdown(ctx)
}

// OnData sets the handler of received data frames.
func (s *Server) OnData(h DataHandler) {
	if h == nil {
		s.dataHandler.Store(nil)
		return
	}
	s.dataHandler.Store(&h)
}

// Received returns the data frames received from clients, in arrival order.
// Frames are dropped when nobody drains the channel.
func (s *Server) Received() <-chan *remote.Frame {
	return s.received
}

// Sessions returns the connected clients.
func (s *Server) Sessions() []SessionInfo {
	infos := make([]SessionInfo, 0, s.sessions.Size())
	s.sessions.Range(func(_ string, sess *session) bool {
		infos = append(infos, sess.info)
		return true
	})

	return infos
}

// Send delivers f to one session.
func (s *Server) Send(sessionID string, f *remote.Frame) error {
	sess, ok := s.sessions.Load(sessionID)
	if !ok {
		return ErrUnknownSession
	}

	return sess.deliver(f)
}

// Broadcast delivers f to every session and returns the number of successful deliveries.
func (s *Server) Broadcast(f *remote.Frame) int {
	count := 0
	s.sessions.Range(func(_ string, sess *session) bool {
		if err := sess.deliver(f); err == nil {
			count++
		}

		return true
	})

	return count
}

// Kick drops a session as if the network failed. It reports whether the session existed.
func (s *Server) Kick(sessionID string) bool {
	sess, ok := s.sessions.LoadAndDelete(sessionID)
	if !ok {
		return false
	}
	sess.close()
	s.logger.Debug("session dropped", "session", sessionID)

	return true
}

func (s *Server) authenticate(f *remote.Frame) error {
	if f.Type != remote.FrameConnect {
		return fmt.Errorf("expected connect frame, got %q", f.Type)
	}
	if f.ConnectName == "" {
		return errors.New("missing connect name")
	}

	if s.credentials.Size() == 0 {
		return nil
	}

	password, ok := s.credentials.Load(f.ConnectName)
	if !ok || password != f.Password {
		return errors.New("invalid connect name or password")
	}

	return nil
}

// newSession creates an unregistered session. A nil conn selects the long polling transport.
func (s *Server) newSession(f *remote.Frame, conn *websocket.Conn) *session {
	transport := "websocket"
	if conn == nil {
		transport = "longpoll"
	}

	id := strconv.FormatUint(s.nextID.Add(1), 10)
	sess := &session{
		info: SessionInfo{
			ID:          id,
			ConnectName: f.ConnectName,
			DeviceName:  f.Name,
			Networks:    append([]string(nil), f.Networks...),
			Transport:   transport,
		},
		ws:     conn,
		closed: make(chan struct{}),
	}
	if conn == nil {
		sess.queue = make(chan *remote.Frame, pollQueueSize)
	}

	return sess
}

func (s *Server) register(sess *session) {
	s.sessions.Store(sess.info.ID, sess)
	s.logger.Debug("session connected", "session", sess.info.ID,
		"connectName", sess.info.ConnectName, "transport", sess.info.Transport)
}

func (s *Server) handleData(sess *session, f *remote.Frame) {
	if f.Type != remote.FrameData {
		return
	}
	f.From = sess.info.ConnectName

	select {
	case s.received <- f:
	default:
		s.logger.Warn("received queue full, frame dropped", "session", sess.info.ID)
	}

	if h := s.dataHandler.Load(); h != nil {
		(*h)(sess.info.ID, f)
	}
}

// --- WebSocket transport ---

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	var hello remote.Frame
	if err := conn.ReadJSON(&hello); err != nil {
		return
	}

	if err := s.authenticate(&hello); err != nil {
		_ = conn.WriteJSON(&remote.Frame{Type: remote.FrameError, Error: err.Error()})
		return
	}

	sess := s.newSession(&hello, conn)
	if err := sess.deliver(&remote.Frame{Type: remote.FrameConnected, Session: sess.info.ID}); err != nil {
		return
	}

	s.register(sess)
	defer s.Kick(sess.info.ID)

	_ = conn.SetReadDeadline(time.Time{})

	for {
		var f remote.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		s.handleData(sess, &f)
	}
}

// --- Long polling transport ---

func (s *Server) handlePollConnect(w http.ResponseWriter, r *http.Request) {
	var hello remote.Frame
	if err := json.NewDecoder(r.Body).Decode(&hello); err != nil {
		http.Error(w, "invalid connect frame", http.StatusBadRequest)
		return
	}

	if err := s.authenticate(&hello); err != nil {
		writeJSON(w, http.StatusUnauthorized, &remote.Frame{Type: remote.FrameError, Error: err.Error()})
		return
	}

	sess := s.newSession(&hello, nil)
	s.register(sess)

	writeJSON(w, http.StatusOK, &remote.Frame{Type: remote.FrameConnected, Session: sess.info.ID})
}

func (s *Server) handlePollSend(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Load(r.URL.Query().Get("session"))
	if !ok {
		http.Error(w, ErrUnknownSession.Error(), http.StatusNotFound)
		return
	}

	var f remote.Frame
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		http.Error(w, "invalid frame", http.StatusBadRequest)
		return
	}

	s.handleData(sess, &f)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Load(r.URL.Query().Get("session"))
	if !ok {
		http.Error(w, ErrUnknownSession.Error(), http.StatusNotFound)
		return
	}

	timer := time.NewTimer(s.pollTimeout)
	defer timer.Stop()

	var frames []*remote.Frame
	select {
	case f := <-sess.queue:
		frames = append(frames, f)
	case <-sess.closed:
		http.Error(w, ErrUnknownSession.Error(), http.StatusNotFound)
		return
	case <-r.Context().Done():
		return
	case <-timer.C:
		w.WriteHeader(http.StatusNoContent)
		return
	}

	for drained := false; !drained; {
		select {
		case f := <-sess.queue:
			frames = append(frames, f)
		default:
			drained = true
		}
	}

	writeJSON(w, http.StatusOK, frames)
}

func (s *Server) handlePollDisconnect(w http.ResponseWriter, r *http.Request) {
	s.Kick(r.URL.Query().Get("session"))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// --- session ---

type session struct {
	info SessionInfo

	ws      *websocket.Conn
	wsMu    sync.Mutex
	queue   chan *remote.Frame
	closed  chan struct{}
	closeMu sync.Once
}

func (sess *session) deliver(f *remote.Frame) error {
	select {
	case <-sess.closed:
		return ErrUnknownSession
	default:
	}

	if sess.ws != nil {
		sess.wsMu.Lock()
		defer sess.wsMu.Unlock()

		_ = sess.ws.SetWriteDeadline(time.Now().Add(handshakeTimeout))

		return sess.ws.WriteJSON(f)
	}

	select {
	case sess.queue <- f:
		return nil
	default:
		return errors.New("remotetest: poll queue full")
	}
}

func (sess *session) close() {
	sess.closeMu.Do(func() {
		close(sess.closed)
		if sess.ws != nil {
			_ = sess.ws.Close()
		}
	})
}
