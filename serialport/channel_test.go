package serialport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChannel_OpenClose(t *testing.T) {
	require := require.New(t)

	port := newFakePort(20 * time.Millisecond)
	ch := newTestChannel(t, port)

	require.Equal(ClosedState, ch.State())
	require.NoError(ch.Open())
	require.True(ch.IsOpen())
	require.ErrorIs(ch.Open(), ErrAlreadyOpen)

	require.NoError(ch.Close())
	require.Equal(ClosedState, ch.State())
	require.NoError(ch.Close())
	require.Equal(int32(1), port.closeCount.Load())

	select {
	case <-ch.Done():
	default:
		t.Fatal("Done must be closed after Close")
	}
	require.NoError(ch.Err())
}

func TestChannel_Reopen(t *testing.T) {
	require := require.New(t)

	port := newFakePort(20 * time.Millisecond)
	ch := newTestChannel(t, port)

	require.NoError(ch.Open())
	require.NoError(ch.Close())
	require.NoError(ch.Open())
	require.True(ch.IsOpen())

	port.feed([]byte("x"))
	require.NoError(ch.Close())
	require.Equal(int32(2), port.closeCount.Load())
}

func TestChannel_OpenError(t *testing.T) {
	require := require.New(t)

	osErr := errors.New("permission denied")
	cfg, err := NewConfig("/dev/ttyS9", WithOpener(func(*Config) (Port, error) {
		return nil, osErr
	}))
	require.NoError(err)

	ch, err := NewChannel(t.Context(), cfg)
	require.NoError(err)

	err = ch.Open()
	var openErr *OpenError
	require.ErrorAs(err, &openErr)
	require.Equal("/dev/ttyS9", openErr.Port)
	require.ErrorIs(err, osErr)
	require.Contains(err.Error(), "/dev/ttyS9")

	require.Equal(ClosedState, ch.State())
	require.False(cfg.IsFrozen())
	require.NoError(ch.Close())
}

func TestChannel_ReceiveHandler(t *testing.T) {
	require := require.New(t)

	port := newFakePort(20 * time.Millisecond)
	ch := newTestChannel(t, port)

	var (
		mu     sync.Mutex
		chunks [][]byte
	)
	ch.SetReceiveHandler(func(data []byte) {
		mu.Lock()
		chunks = append(chunks, append([]byte(nil), data...))
		mu.Unlock()
	})

	require.NoError(ch.Open())
	port.feed([]byte("Hello"))

	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, c := range chunks {
		require.Len(c, 1)
		require.Equal("Hello"[i], c[0])
	}
	require.Equal(uint64(5), ch.GetMetrics().BytesRecvCount.Load())
}

func TestChannel_ReadBufferSize(t *testing.T) {
	require := require.New(t)

	port := newFakePort(20 * time.Millisecond)
	ch := newTestChannel(t, port, WithReadBufferSize(16))

	received := make(chan []byte, 4)
	ch.SetReceiveHandler(func(data []byte) {
		received <- append([]byte(nil), data...)
	})

	port.feed([]byte("Hello"))
	require.NoError(ch.Open())

	select {
	case data := <-received:
		require.Equal([]byte("Hello"), data)
	case <-time.After(time.Second):
		t.Fatal("no data received")
	}
}

func TestChannel_HandlerPanicKeepsReading(t *testing.T) {
	port := newFakePort(20 * time.Millisecond)
	ch := newTestChannel(t, port)

	var calls sync.WaitGroup
	calls.Add(2)
	ch.SetReceiveHandler(func([]byte) {
		calls.Done()
		panic("boom")
	})

	require.NoError(t, ch.Open())
	port.feed([]byte("ab"))

	waitDone := make(chan struct{})
	go func() {
		calls.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("read loop stopped after handler panic")
	}
	require.True(t, ch.IsOpen())
}

func TestChannel_WriteWhenClosed(t *testing.T) {
	require := require.New(t)

	port := newFakePort(20 * time.Millisecond)
	ch := newTestChannel(t, port)

	n, err := ch.Write([]byte("ACK"))
	require.NoError(err)
	require.Zero(n)

	require.NoError(ch.Open())
	require.NoError(ch.Close())

	n, err = ch.Write([]byte("ACK"))
	require.NoError(err)
	require.Zero(n)

	require.Empty(port.written())
	require.Equal(uint64(2), ch.GetMetrics().DroppedWriteCount.Load())
}

func TestChannel_Write(t *testing.T) {
	require := require.New(t)

	port := newFakePort(20 * time.Millisecond)
	ch := newTestChannel(t, port)
	require.NoError(ch.Open())

	n, err := ch.Write([]byte("ACK"))
	require.NoError(err)
	require.Equal(3, n)
	require.Equal([][]byte{[]byte("ACK")}, port.written())

	port.mu.Lock()
	port.writeErr = errors.New("i/o error")
	port.mu.Unlock()

	_, err = ch.Write([]byte("x"))
	require.Error(err)
	require.Equal(uint64(1), ch.GetMetrics().WriteErrCount.Load())
}

func TestChannel_FatalReadError(t *testing.T) {
	require := require.New(t)

	port := newFakePort(20 * time.Millisecond)
	ch := newTestChannel(t, port)
	require.NoError(ch.Open())

	devErr := errors.New("device removed")
	port.failReads(devErr)

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("read loop did not end on fatal error")
	}

	var readErr *ReadError
	require.ErrorAs(ch.Err(), &readErr)
	require.ErrorIs(ch.Err(), devErr)
	require.Equal(uint64(1), ch.GetMetrics().ReadErrCount.Load())

	require.NoError(ch.Close())
	require.Equal(int32(1), port.closeCount.Load())
}

func TestChannel_CloseDuringReadTimeout(t *testing.T) {
	require := require.New(t)

	readTimeout := 200 * time.Millisecond
	port := newFakePort(readTimeout)
	ch := newTestChannel(t, port)
	require.NoError(ch.Open())

	// let the loop block inside a read
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(ch.Close())
	require.Less(time.Since(start), readTimeout+closeMargin)
	require.Equal(int32(1), port.closeCount.Load())
}

func TestChannel_ConcurrentClose(t *testing.T) {
	port := newFakePort(20 * time.Millisecond)
	ch := newTestChannel(t, port)
	require.NoError(t, ch.Open())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ch.Close()
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), port.closeCount.Load())
}

func TestChannel_OpenAfterTimedOutClose(t *testing.T) {
	require := require.New(t)

	port := newFakePort(20 * time.Millisecond)
	ch := newTestChannel(t, port)

	var (
		mu   sync.Mutex
		recv []byte
	)
	ch.SetReceiveHandler(func(data []byte) {
		mu.Lock()
		recv = append(recv, data...)
		mu.Unlock()
	})

	release := port.stallReads()
	t.Cleanup(release)

	require.NoError(ch.Open())
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(ch.Close())
	require.GreaterOrEqual(time.Since(start), ch.Config().CloseTimeout())

	time.AfterFunc(50*time.Millisecond, release)

	require.NoError(ch.Open())
	require.True(ch.IsOpen())

	port.feed([]byte("ok"))
	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(recv) == "ok"
	}, time.Second, 5*time.Millisecond)

	require.NoError(ch.Close())
	require.Equal(int32(2), port.closeCount.Load())
}

func TestChannel_OpenWhileReadLoopStuck(t *testing.T) {
	require := require.New(t)

	port := newFakePort(20 * time.Millisecond)
	ch := newTestChannel(t, port)

	release := port.stallReads()
	t.Cleanup(release)

	require.NoError(ch.Open())
	time.Sleep(20 * time.Millisecond)
	require.NoError(ch.Close())

	require.ErrorIs(ch.Open(), ErrReadLoopBusy)
	require.Equal(ClosedState, ch.State())
	require.Equal(int32(1), port.closeCount.Load())

	release()
	require.Eventually(func() bool {
		return ch.Open() == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(ch.Close())
}
