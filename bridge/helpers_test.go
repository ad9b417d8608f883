package bridge

import (
	"errors"
	"io"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-serialbridge/logger"
	"github.com/arloliu/go-serialbridge/remote"
	"github.com/arloliu/go-serialbridge/serialport"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

// fakeSerial is an in-memory Serial.
type fakeSerial struct {
	mu      sync.Mutex
	handler serialport.ReceiveHandler
	writes  [][]byte
	open    bool
	openErr error
	readErr error
	done    chan struct{}

	openCount  atomic.Int32
	closeCount atomic.Int32
}

func newFakeSerial() *fakeSerial {
	return &fakeSerial{done: make(chan struct{})}
}

func (s *fakeSerial) Open() error {
	s.openCount.Add(1)
	if s.openErr != nil {
		return s.openErr
	}

	s.mu.Lock()
	s.open = true
	s.mu.Unlock()

	return nil
}

func (s *fakeSerial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false
	s.closeCount.Add(1)

	if s.readErr == nil {
		close(s.done)
	}

	return nil
}

func (s *fakeSerial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return 0, nil
	}
	s.writes = append(s.writes, append([]byte(nil), p...))

	return len(p), nil
}

func (s *fakeSerial) SetReceiveHandler(h serialport.ReceiveHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *fakeSerial) Done() <-chan struct{} { return s.done }

func (s *fakeSerial) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readErr
}

// emit simulates bytes read by the read loop, one read per byte.
func (s *fakeSerial) emit(data []byte) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()

	for i := range data {
		h(data[i : i+1])
	}
}

// failRead simulates a fatal read error ending the read loop.
func (s *fakeSerial) failRead(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
	close(s.done)
}

func (s *fakeSerial) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([][]byte(nil), s.writes...)
}

// fakeRemote is an in-memory remote.Channel.
type fakeRemote struct {
	mu         sync.Mutex
	sent       []*remote.Message
	onReceive  []func(*remote.Message)
	onStatus   []func(bool)
	connectErr error
	done       chan struct{}
	err        error

	connectCount    atomic.Int32
	disconnectCount atomic.Int32
}

var _ remote.Channel = (*fakeRemote)(nil)

func (r *fakeRemote) Send(msg *remote.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, msg)

	return nil
}

func (r *fakeRemote) OnReceive(h func(*remote.Message)) {
	r.mu.Lock()
	r.onReceive = append(r.onReceive, h)
	r.mu.Unlock()
}

func (r *fakeRemote) OnConnectionStatusChanged(h func(bool)) {
	r.mu.Lock()
	r.onStatus = append(r.onStatus, h)
	r.mu.Unlock()
}

func (r *fakeRemote) Connect() error {
	r.connectCount.Add(1)
	return r.connectErr
}

func (r *fakeRemote) Disconnect() error {
	r.disconnectCount.Add(1)
	return nil
}

func (r *fakeRemote) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done == nil {
		r.done = make(chan struct{})
	}

	return r.done
}

func (r *fakeRemote) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.err
}

// terminate simulates the connection loop giving up with err.
func (r *fakeRemote) terminate(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
	if r.done == nil {
		r.done = make(chan struct{})
	}
	close(r.done)
}

func (r *fakeRemote) deliver(msg *remote.Message) {
	r.mu.Lock()
	handlers := slices.Clone(r.onReceive)
	r.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (r *fakeRemote) setStatus(connected bool) {
	r.mu.Lock()
	handlers := slices.Clone(r.onStatus)
	r.mu.Unlock()

	for _, h := range handlers {
		h(connected)
	}
}

func (r *fakeRemote) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.sent))
	for _, m := range r.sent {
		out = append(out, string(m.Payload))
	}

	return out
}

func (r *fakeRemote) messages() []*remote.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*remote.Message(nil), r.sent...)
}

type recordingPublisher struct {
	mu    sync.Mutex
	lines []string
}

func (p *recordingPublisher) Publish(line string) {
	p.mu.Lock()
	p.lines = append(p.lines, line)
	p.mu.Unlock()
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]string(nil), p.lines...)
}

// timeoutPort is a serialport.Port whose reads block for the read timeout
// unless bytes were fed.
type timeoutPort struct {
	timeout  time.Duration
	incoming chan []byte

	mu      sync.Mutex
	pending []byte
	writes  [][]byte

	closeCount atomic.Int32
}

func newTimeoutPort(timeout time.Duration) *timeoutPort {
	return &timeoutPort{timeout: timeout, incoming: make(chan []byte, 64)}
}

func (p *timeoutPort) feed(b []byte) {
	p.incoming <- append([]byte(nil), b...)
}

func (p *timeoutPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()

		timer := time.NewTimer(p.timeout)
		defer timer.Stop()

		select {
		case b := <-p.incoming:
			p.mu.Lock()
			p.pending = append(p.pending, b...)
		case <-timer.C:
			return 0, io.EOF
		}
	}
	defer p.mu.Unlock()

	n := copy(buf, p.pending)
	p.pending = p.pending[n:]

	return n, nil
}

func (p *timeoutPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closeCount.Load() > 0 {
		return 0, errors.New("port closed")
	}
	p.writes = append(p.writes, append([]byte(nil), b...))

	return len(b), nil
}

func (p *timeoutPort) Close() error {
	p.closeCount.Add(1)
	return nil
}

func (p *timeoutPort) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([][]byte(nil), p.writes...)
}

func newSerialChannel(t *testing.T, port *timeoutPort) *serialport.Channel {
	t.Helper()

	cfg, err := serialport.NewConfig("/dev/ttyBRIDGE0",
		serialport.WithReadTimeout(port.timeout),
		serialport.WithOpener(func(*serialport.Config) (serialport.Port, error) { return port, nil }),
	)
	if err != nil {
		t.Fatalf("newSerialChannel: %v", err)
	}

	ch, err := serialport.NewChannel(t.Context(), cfg)
	if err != nil {
		t.Fatalf("newSerialChannel: %v", err)
	}

	return ch
}
