package remote

import "sync/atomic"

// ConnectionMetrics contains atomic metrics for a remote channel.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// FrameSendCount indicates the number of data frames written to the service.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of data frames received from the service.
	FrameRecvCount atomic.Uint64
	// SendErrCount indicates the number of rejected or failed sends.
	SendErrCount atomic.Uint64
	// ConnectCount indicates the number of established sessions.
	ConnectCount atomic.Uint64
	// ConnRetryGauge indicates the number of connection attempts since the last success.
	ConnRetryGauge atomic.Uint32
}

func (m *ConnectionMetrics) incFrameSendCount() {
	m.FrameSendCount.Add(1)
}

func (m *ConnectionMetrics) incFrameRecvCount() {
	m.FrameRecvCount.Add(1)
}

func (m *ConnectionMetrics) incSendErrCount() {
	m.SendErrCount.Add(1)
}

func (m *ConnectionMetrics) incConnectCount() {
	m.ConnectCount.Add(1)
}

func (m *ConnectionMetrics) incConnRetryGauge() {
	m.ConnRetryGauge.Add(1)
}

func (m *ConnectionMetrics) resetConnRetryGauge() {
	m.ConnRetryGauge.Store(0)
}
