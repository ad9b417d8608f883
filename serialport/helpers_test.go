package serialport

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-serialbridge/logger"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

// fakePort is an in-memory Port. Reads wait up to timeout for fed bytes and
// then report a timeout as (0, io.EOF), the way tarm/serial does.
type fakePort struct {
	timeout time.Duration

	mu       sync.Mutex
	pending  []byte
	readErr  error
	writes   [][]byte
	writeErr error

	notify     chan struct{}
	stall      chan struct{} // when set, reads block until it is closed
	closeCount atomic.Int32
}

func newFakePort(timeout time.Duration) *fakePort {
	return &fakePort{timeout: timeout, notify: make(chan struct{}, 1)}
}

func (p *fakePort) feed(b []byte) {
	p.mu.Lock()
	p.pending = append(p.pending, b...)
	p.mu.Unlock()
	p.wake()
}

func (p *fakePort) failReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
	p.wake()
}

// stallReads makes reads ignore the read timeout until the returned func is called.
func (p *fakePort) stallReads() (release func()) {
	stall := make(chan struct{})
	p.mu.Lock()
	p.stall = stall
	p.mu.Unlock()

	var once sync.Once

	return func() { once.Do(func() { close(stall) }) }
}

func (p *fakePort) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	stall := p.stall
	p.mu.Unlock()
	if stall != nil {
		<-stall
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.readErr != nil {
			err := p.readErr
			p.mu.Unlock()

			return 0, err
		}
		if len(p.pending) > 0 {
			n := copy(buf, p.pending)
			p.pending = p.pending[n:]
			p.mu.Unlock()

			return n, nil
		}
		p.mu.Unlock()

		select {
		case <-p.notify:
		case <-timer.C:
			return 0, io.EOF
		}
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))

	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closeCount.Add(1)
	return nil
}

func (p *fakePort) written() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([][]byte(nil), p.writes...)
}

// newTestChannel creates a Channel whose opener returns port.
func newTestChannel(t *testing.T, port *fakePort, opts ...ConfigOption) *Channel {
	t.Helper()

	defaults := []ConfigOption{
		WithReadTimeout(port.timeout),
		WithOpener(func(*Config) (Port, error) { return port, nil }),
	}

	cfg, err := NewConfig("/dev/ttyTEST0", append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestChannel: %v", err)
	}

	ch, err := NewChannel(t.Context(), cfg)
	if err != nil {
		t.Fatalf("newTestChannel: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })

	return ch
}
