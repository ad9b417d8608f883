package outbound

import "sync/atomic"

// Metrics contains atomic metrics for an Aggregator.
type Metrics struct {
	// BytesAppendCount indicates the number of bytes appended by producers.
	BytesAppendCount atomic.Uint64
	// BatchSendCount indicates the number of messages handed to the sender.
	BatchSendCount atomic.Uint64
	// BytesSendCount indicates the number of payload bytes handed to the sender.
	BytesSendCount atomic.Uint64
	// SendErrCount indicates the number of batches the sender rejected.
	SendErrCount atomic.Uint64
	// BytesDroppedCount indicates the number of payload bytes discarded after a failed send.
	BytesDroppedCount atomic.Uint64
}

func (m *Metrics) addBytesAppend(n int) {
	m.BytesAppendCount.Add(uint64(n))
}

func (m *Metrics) incBatchSend(n int) {
	m.BatchSendCount.Add(1)
	m.BytesSendCount.Add(uint64(n))
}

func (m *Metrics) incSendErr(dropped int) {
	m.SendErrCount.Add(1)
	m.BytesDroppedCount.Add(uint64(dropped))
}
