// Package outbound batches bytes read from the serial line into messages for
// the remote channel.
//
// Producers call Aggregator.Append from any goroutine; every call enqueues a
// private copy of its bytes as one chunk on a lock-free FIFO. A flush loop
// drains the FIFO at a fixed interval, concatenates the chunks in arrival
// order and hands the result to the Sender as one message. Empty batches are
// never sent, and a batch whose send fails is dropped, not retried.
//
// Batches are cut on character boundaries: a multibyte character split
// across two flushes is held back and sent with the next batch. Stop sends
// whatever is held back.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-serialbridge/internal/queue"
	"github.com/arloliu/go-serialbridge/internal/task"
	"github.com/arloliu/go-serialbridge/internal/util"
	"github.com/arloliu/go-serialbridge/logger"
	"github.com/arloliu/go-serialbridge/remote"
	"github.com/arloliu/go-serialbridge/textcodec"
)

// Sender delivers one batch. remote.Channel implements it.
type Sender interface {
	Send(msg *remote.Message) error
}

// Aggregator accumulates outbound bytes and flushes them periodically.
type Aggregator struct {
	sender  Sender
	opts    *options
	logger  logger.Logger
	taskMgr *task.Manager
	pending queue.Queue[[]byte]
	metrics Metrics

	flushMu sync.Mutex // one flush at a time, guards decoder
	decoder *textcodec.StreamDecoder
	running atomic.Bool
}

// NewAggregator creates a stopped aggregator that sends batches to sender.
// The flush loop observes ctx.
func NewAggregator(ctx context.Context, sender Sender, opts ...Option) (*Aggregator, error) {
	if sender == nil {
		return nil, errors.New("outbound: sender must not be nil")
	}

	o := defaultOptions()
	for _, opt := range opts {
		if err := opt.apply(o); err != nil {
			return nil, err
		}
	}

	l := o.logger.With("component", "outbound")

	return &Aggregator{
		sender:  sender,
		opts:    o,
		logger:  l,
		taskMgr: task.NewManager(ctx, l),
		pending: queue.NewLockFreeQueue[[]byte](),
		decoder: o.codec.NewStreamDecoder(),
	}, nil
}

// Append enqueues a copy of p. It never blocks and is safe for concurrent use,
// including concurrently with a flush. Empty input is ignored.
func (a *Aggregator) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	a.pending.Enqueue(util.CloneSlice(p, 0))
	a.metrics.addBytesAppend(len(p))
}

// Pending returns the number of chunks waiting for the next flush. Bytes held
// back for an incomplete character are not counted.
func (a *Aggregator) Pending() int {
	return a.pending.Length()
}

// DataType returns the tag attached to outgoing messages.
func (a *Aggregator) DataType() string {
	return a.opts.dataType
}

// FlushInterval returns the period of the flush loop.
func (a *Aggregator) FlushInterval() time.Duration {
	return a.opts.flushInterval
}

// IsRunning reports whether the flush loop is running.
func (a *Aggregator) IsRunning() bool {
	return a.running.Load()
}

// GetMetrics returns the metrics of the aggregator.
func (a *Aggregator) GetMetrics() *Metrics {
	return &a.metrics
}

// Flush drains every pending chunk and sends their concatenation as one
// message. Nothing is sent when no byte is pending. An incomplete trailing
// character stays pending for the next flush.
//
// A send error is logged, counted and returned; the drained bytes are discarded.
func (a *Aggregator) Flush() error {
	return a.flush(false)
}

// flush sends the pending bytes. With final set the bytes held back for an
// incomplete character are sent too.
func (a *Aggregator) flush(final bool) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	var chunks [][]byte
	for {
		chunk, ok := a.pending.Dequeue()
		if !ok {
			break
		}
		chunks = append(chunks, chunk)
	}

	raw := util.Concat(chunks)
	if len(raw) == 0 && a.decoder.Pending() == 0 {
		return nil
	}

	payload, err := a.decoder.Decode(raw, final)
	if err != nil {
		a.logger.Warn("charset decode failed, sending raw bytes", "charset", a.opts.codec.Name(), "error", err)
		payload = raw
	}
	if len(payload) == 0 {
		return nil
	}

	msg := &remote.Message{Payload: payload, DataType: a.opts.dataType}
	if err := a.sender.Send(msg); err != nil {
		a.metrics.incSendErr(len(payload))
		a.logger.Warn("batch send failed, data dropped", "len", len(payload), "error", err)

		return fmt.Errorf("outbound: send batch: %w", err)
	}

	a.metrics.incBatchSend(len(payload))
	a.logger.Debug("batch sent", "len", len(payload), "chunks", len(chunks))

	return nil
}

// Start starts the flush loop. Calling Start on a running aggregator is a no-op.
func (a *Aggregator) Start() error {
	if !a.running.CompareAndSwap(false, true) {
		return nil
	}

	_, err := a.taskMgr.StartInterval("outboundFlush", func() bool {
		_ = a.Flush()
		return true
	}, a.opts.flushInterval, false)
	if err != nil {
		a.running.Store(false)
		return fmt.Errorf("outbound: start flush loop: %w", err)
	}

	a.logger.Debug("flush loop started", "interval", a.opts.flushInterval, "dataType", a.opts.dataType)

	return nil
}

// Stop stops the flush loop and waits for a flush in progress to finish.
// Unless disabled with WithFlushOnStop, the bytes still pending are flushed
// once more. Calling Stop on a stopped aggregator is a no-op.
func (a *Aggregator) Stop() {
	if !a.running.CompareAndSwap(true, false) {
		return
	}

	a.taskMgr.Stop()
	a.taskMgr.Wait()

	if a.opts.flushOnStop {
		_ = a.flush(true)
	}

	a.logger.Debug("flush loop stopped")
}
