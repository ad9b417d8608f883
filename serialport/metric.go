package serialport

import "sync/atomic"

// ChannelMetrics contains atomic metrics for a serial channel.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ChannelMetrics struct {
	// BytesRecvCount indicates the number of bytes read from the device.
	BytesRecvCount atomic.Uint64
	// BytesSendCount indicates the number of bytes written to the device.
	BytesSendCount atomic.Uint64
	// ReadErrCount indicates the number of fatal read errors.
	ReadErrCount atomic.Uint64
	// WriteErrCount indicates the number of failed writes.
	WriteErrCount atomic.Uint64
	// DroppedWriteCount indicates the number of writes ignored because the channel was closed.
	DroppedWriteCount atomic.Uint64
}

func (m *ChannelMetrics) addBytesRecv(n int) {
	m.BytesRecvCount.Add(uint64(n))
}

func (m *ChannelMetrics) addBytesSend(n int) {
	m.BytesSendCount.Add(uint64(n))
}

func (m *ChannelMetrics) incReadErrCount() {
	m.ReadErrCount.Add(1)
}

func (m *ChannelMetrics) incWriteErrCount() {
	m.WriteErrCount.Add(1)
}

func (m *ChannelMetrics) incDroppedWriteCount() {
	m.DroppedWriteCount.Add(1)
}
