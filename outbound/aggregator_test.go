package outbound

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-serialbridge/logger"
	"github.com/arloliu/go-serialbridge/remote"
	"github.com/arloliu/go-serialbridge/textcodec"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

// recordingSender keeps every message it is asked to send.
type recordingSender struct {
	mu   sync.Mutex
	msgs []*remote.Message
}

func (s *recordingSender) Send(msg *remote.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = append(s.msgs, msg)

	return nil
}

func (s *recordingSender) messages() []*remote.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*remote.Message(nil), s.msgs...)
}

func (s *recordingSender) joined() []byte {
	var buf bytes.Buffer
	for _, m := range s.messages() {
		buf.Write(m.Payload)
	}

	return buf.Bytes()
}

type mockSender struct {
	mock.Mock
}

func (s *mockSender) Send(msg *remote.Message) error {
	args := s.Called(msg)
	return args.Error(0)
}

func newTestAggregator(t *testing.T, sender Sender, opts ...Option) *Aggregator {
	t.Helper()

	agg, err := NewAggregator(t.Context(), sender, opts...)
	require.NoError(t, err)
	t.Cleanup(agg.Stop)

	return agg
}

func TestNewAggregator_Invalid(t *testing.T) {
	_, err := NewAggregator(t.Context(), nil)
	require.Error(t, err)

	_, err = NewAggregator(t.Context(), &recordingSender{}, WithFlushInterval(0))
	require.Error(t, err)

	_, err = NewAggregator(t.Context(), &recordingSender{}, WithCodec(nil))
	require.Error(t, err)
}

func TestAggregator_FlushConcatenatesInOrder(t *testing.T) {
	require := require.New(t)

	sender := &recordingSender{}
	agg := newTestAggregator(t, sender, WithDataType("x"))

	for _, b := range []byte("Hello") {
		agg.Append([]byte{b})
	}
	require.Equal(5, agg.Pending())

	require.NoError(agg.Flush())

	msgs := sender.messages()
	require.Len(msgs, 1)
	require.Equal([]byte("Hello"), msgs[0].Payload)
	require.Equal("x", msgs[0].DataType)
	require.Empty(msgs[0].Sender)
}

func TestAggregator_NeverSendsEmpty(t *testing.T) {
	sender := &mockSender{}
	agg := newTestAggregator(t, sender)

	agg.Append(nil)
	agg.Append([]byte{})

	require.NoError(t, agg.Flush())
	require.NoError(t, agg.Flush())
	sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestAggregator_EmptyAfterFlush(t *testing.T) {
	require := require.New(t)

	sender := &recordingSender{}
	agg := newTestAggregator(t, sender)

	agg.Append([]byte("abc"))
	require.NoError(agg.Flush())
	require.Zero(agg.Pending())

	require.NoError(agg.Flush())
	require.Len(sender.messages(), 1)

	agg.Append([]byte("d"))
	require.NoError(agg.Flush())
	require.Len(sender.messages(), 2)
	require.Equal([]byte("d"), sender.messages()[1].Payload)
}

func TestAggregator_AppendCopiesInput(t *testing.T) {
	sender := &recordingSender{}
	agg := newTestAggregator(t, sender)

	buf := []byte("one")
	agg.Append(buf)
	copy(buf, "two")

	require.NoError(t, agg.Flush())
	require.Equal(t, []byte("one"), sender.messages()[0].Payload)
}

func TestAggregator_SendFailureIsNotRetried(t *testing.T) {
	require := require.New(t)

	sendErr := errors.New("link down")
	sender := &mockSender{}
	sender.On("Send", mock.MatchedBy(func(msg *remote.Message) bool {
		return string(msg.Payload) == "lost"
	})).Return(sendErr).Once()
	sender.On("Send", mock.MatchedBy(func(msg *remote.Message) bool {
		return string(msg.Payload) == "next"
	})).Return(nil).Once()

	agg := newTestAggregator(t, sender)

	agg.Append([]byte("lost"))
	err := agg.Flush()
	require.ErrorIs(err, sendErr)
	require.Zero(agg.Pending())

	agg.Append([]byte("next"))
	require.NoError(agg.Flush())

	sender.AssertExpectations(t)
	m := agg.GetMetrics()
	require.Equal(uint64(1), m.SendErrCount.Load())
	require.Equal(uint64(4), m.BytesDroppedCount.Load())
	require.Equal(uint64(1), m.BatchSendCount.Load())
	require.Equal(uint64(8), m.BytesAppendCount.Load())
}

func TestAggregator_FlushLoop(t *testing.T) {
	require := require.New(t)

	sender := &recordingSender{}
	agg := newTestAggregator(t, sender, WithFlushInterval(10*time.Millisecond))

	require.NoError(agg.Start())
	require.NoError(agg.Start())
	require.True(agg.IsRunning())

	agg.Append([]byte("Hel"))
	agg.Append([]byte("lo"))

	require.Eventually(func() bool {
		return string(sender.joined()) == "Hello"
	}, time.Second, 5*time.Millisecond)

	for _, m := range sender.messages() {
		require.NotEmpty(m.Payload)
	}

	agg.Stop()
	agg.Stop()
	require.False(agg.IsRunning())
}

func TestAggregator_StopFlushesPending(t *testing.T) {
	sender := &recordingSender{}
	agg := newTestAggregator(t, sender, WithFlushInterval(3*time.Second))

	require.NoError(t, agg.Start())
	agg.Append([]byte("tail"))
	agg.Stop()

	require.Equal(t, []byte("tail"), sender.joined())
}

func TestAggregator_StopWithoutFlush(t *testing.T) {
	sender := &recordingSender{}
	agg := newTestAggregator(t, sender, WithFlushInterval(5*time.Second), WithFlushOnStop(false))

	require.NoError(t, agg.Start())
	agg.Append([]byte("tail"))
	agg.Stop()

	require.Empty(t, sender.messages())
	require.Equal(t, 1, agg.Pending())
}

func TestAggregator_Codec(t *testing.T) {
	codec, err := textcodec.Lookup("ISO-8859-1")
	require.NoError(t, err)

	sender := &recordingSender{}
	agg := newTestAggregator(t, sender, WithCodec(codec))

	agg.Append([]byte{'c', 'a', 'f', 0xE9})
	require.NoError(t, agg.Flush())
	require.Equal(t, "café", string(sender.messages()[0].Payload))
}

// wireSender records messages after a trip through the JSON data frame.
type wireSender struct {
	recordingSender
}

func (s *wireSender) Send(msg *remote.Message) error {
	data, err := json.Marshal(remote.NewDataFrame(msg))
	if err != nil {
		return err
	}

	var f remote.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	return s.recordingSender.Send(f.Message())
}

func TestAggregator_SplitCharacterAcrossFlushes(t *testing.T) {
	shiftJIS, err := textcodec.Lookup("Shift_JIS")
	require.NoError(t, err)
	sjis, err := shiftJIS.Encode([]byte("日"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		codec *textcodec.Codec
		first []byte
		rest  []byte
		want  string
	}{
		{"utf-8 two byte", textcodec.Passthrough, []byte{0xC3}, []byte{0xA9}, "é"},
		{"utf-8 three byte", textcodec.Passthrough, []byte("日")[:2], []byte("日")[2:], "日"},
		{"shift_jis", shiftJIS, sjis[:1], sjis[1:], "日"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			sender := &wireSender{}
			agg := newTestAggregator(t, sender, WithCodec(tt.codec))

			agg.Append(tt.first)
			require.NoError(agg.Flush())
			require.Empty(sender.messages())

			agg.Append(tt.rest)
			require.NoError(agg.Flush())

			msgs := sender.messages()
			require.Len(msgs, 1)
			require.Equal([]byte(tt.want), msgs[0].Payload)
		})
	}
}

func TestAggregator_SplitCharacterKeepsPrefix(t *testing.T) {
	require := require.New(t)

	sender := &wireSender{}
	agg := newTestAggregator(t, sender)

	agg.Append([]byte{'c', 'a', 'f', 0xC3})
	require.NoError(agg.Flush())
	agg.Append([]byte{0xA9, '!'})
	require.NoError(agg.Flush())

	msgs := sender.messages()
	require.Len(msgs, 2)
	require.Equal("caf", string(msgs[0].Payload))
	require.Equal("é!", string(msgs[1].Payload))
}

func TestAggregator_StopSendsHeldBackBytes(t *testing.T) {
	require := require.New(t)

	sender := &recordingSender{}
	agg := newTestAggregator(t, sender, WithFlushInterval(3*time.Second))

	require.NoError(agg.Start())
	agg.Append([]byte{'a', 0xC3})
	require.NoError(agg.Flush())
	require.Equal([]byte("a"), sender.joined())

	agg.Stop()
	require.Equal([]byte{'a', 0xC3}, sender.joined())
}

func TestAggregator_ConcurrentAppends(t *testing.T) {
	const (
		producers = 8
		perProd   = 2000
	)

	sender := &recordingSender{}
	agg := newTestAggregator(t, sender, WithFlushInterval(time.Millisecond))
	require.NoError(t, agg.Start())

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func(id byte) {
			defer wg.Done()
			for i := range perProd {
				agg.Append([]byte{id, byte(i >> 8), byte(i)})
			}
		}(byte(p))
	}
	wg.Wait()
	agg.Stop()

	stream := sender.joined()
	require.Len(t, stream, producers*perProd*3)

	next := make([]int, producers)
	for off := 0; off < len(stream); off += 3 {
		id := int(stream[off])
		seq := int(stream[off+1])<<8 | int(stream[off+2])
		require.Less(t, id, producers)
		require.Equal(t, next[id], seq, "producer %d out of order", id)
		next[id]++
	}

	for id, n := range next {
		require.Equal(t, perProd, n, "producer %d", id)
	}
}
