// Package statusapi exposes the state of a running bridge over HTTP.
//
//	GET /api/status  JSON snapshot of the bridge and its channels
//	GET /ws/status   WebSocket stream of connection status lines
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/arloliu/go-serialbridge/bridge"
	"github.com/arloliu/go-serialbridge/logger"
)

const (
	DefaultPingInterval = 30 * time.Second
	writeTimeout        = 5 * time.Second
	readHeaderTimeout   = 5 * time.Second
)

// StatusProvider returns the current bridge status. *bridge.Bridge implements it.
type StatusProvider interface {
	Status() bridge.Status
}

// Server serves the status API.
type Server struct {
	addr         string
	provider     StatusProvider
	hub          *Hub
	router       *mux.Router
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	logger       logger.Logger

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithPingInterval sets the keepalive interval of status streams.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithLogger sets the logger of the server.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a status server listening on addr once started.
// Lines published on hub are streamed to /ws/status clients.
func NewServer(addr string, provider StatusProvider, hub *Hub, opts ...Option) (*Server, error) {
	if provider == nil {
		return nil, errors.New("statusapi: status provider must not be nil")
	}
	if hub == nil {
		return nil, errors.New("statusapi: hub must not be nil")
	}

	s := &Server{
		addr:     addr,
		provider: provider,
		hub:      hub,
		router:   mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pingInterval: DefaultPingInterval,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "statusapi")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/status", s.handleStatusStream)

	return s, nil
}

// Handler returns the HTTP handler of the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpSrv != nil {
		return errors.New("statusapi: server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("statusapi: listen %s: %w", s.addr, err)
	}

	s.listener = ln
	s.httpSrv = &http.Server{Handler: s.router, ReadHeaderTimeout: readHeaderTimeout}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status api stopped", "error", err)
		}
	}(s.httpSrv)

	s.logger.Info("status api listening", "addr", ln.Addr().String())

	return nil
}

// Addr returns the listening address after Start, or the configured address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.addr
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
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

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.provider.Status()); err != nil {
		s.logger.Warn("failed to write status", "error", err)
	}
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, lines := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	s.logger.Debug("status client connected", "remoteAddr", r.RemoteAddr)

	// the reader only detects the peer going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if last := s.hub.Last(); last != "" {
		if err := s.write(conn, websocket.TextMessage, []byte(last)); err != nil {
			return
		}
	}

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			s.logger.Debug("status client disconnected", "remoteAddr", r.RemoteAddr)
			return

		case line := <-lines:
			if err := s.write(conn, websocket.TextMessage, []byte(line)); err != nil {
				return
			}

		case <-ticker.C:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, messageType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(messageType, data); err != nil {
		s.logger.Debug("status client write failed", "error", err)
		return err
	}

	return nil
}
