package bridge

import "sync/atomic"

// Metrics contains atomic metrics for the inbound path of a Bridge.
type Metrics struct {
	// InboundMsgCount indicates the number of messages received from the remote channel.
	InboundMsgCount atomic.Uint64
	// InboundBytesCount indicates the number of bytes written to the serial line.
	InboundBytesCount atomic.Uint64
	// SerialWriteErrCount indicates the number of failed serial writes.
	SerialWriteErrCount atomic.Uint64
	// StatusChangeCount indicates the number of remote connection status changes.
	StatusChangeCount atomic.Uint64
}

func (m *Metrics) incInboundMsgCount() {
	m.InboundMsgCount.Add(1)
}

func (m *Metrics) addInboundBytes(n int) {
	m.InboundBytesCount.Add(uint64(n))
}

func (m *Metrics) incSerialWriteErrCount() {
	m.SerialWriteErrCount.Add(1)
}

func (m *Metrics) incStatusChangeCount() {
	m.StatusChangeCount.Add(1)
}
