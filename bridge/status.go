package bridge

import (
	"time"

	"github.com/arloliu/go-serialbridge/remote"
	"github.com/arloliu/go-serialbridge/serialport"
)

// Status is a point-in-time snapshot of a bridge, suitable for JSON encoding.
type Status struct {
	State           string         `json:"state"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	RemoteConnected bool           `json:"remoteConnected"`
	Error           string         `json:"error,omitempty"`
	Outbound        OutboundStatus `json:"outbound"`
	Inbound         InboundStatus  `json:"inbound"`
	Serial          *SerialStatus  `json:"serial,omitempty"`
	Remote          *RemoteStatus  `json:"remote,omitempty"`
}

type OutboundStatus struct {
	PendingChunks int    `json:"pendingChunks"`
	BytesAppended uint64 `json:"bytesAppended"`
	BatchesSent   uint64 `json:"batchesSent"`
	BytesSent     uint64 `json:"bytesSent"`
	SendErrors    uint64 `json:"sendErrors"`
	BytesDropped  uint64 `json:"bytesDropped"`
}

type InboundStatus struct {
	Messages     uint64 `json:"messages"`
	BytesWritten uint64 `json:"bytesWritten"`
	WriteErrors  uint64 `json:"writeErrors"`
}

type SerialStatus struct {
	BytesReceived uint64 `json:"bytesReceived"`
	BytesSent     uint64 `json:"bytesSent"`
	ReadErrors    uint64 `json:"readErrors"`
	WriteErrors   uint64 `json:"writeErrors"`
}

type RemoteStatus struct {
	FramesSent     uint64 `json:"framesSent"`
	FramesReceived uint64 `json:"framesReceived"`
	SendErrors     uint64 `json:"sendErrors"`
	Connects       uint64 `json:"connects"`
	RetryAttempts  uint32 `json:"retryAttempts"`
}

// Status returns a snapshot of the bridge and, when they expose metrics, of
// its serial and remote channels.
func (b *Bridge) Status() Status {
	am := b.agg.GetMetrics()

	st := Status{
		State:           b.state.String(),
		StartedAt:       b.startedAt.Load(),
		RemoteConnected: b.remoteConnected.Load(),
		Outbound: OutboundStatus{
			PendingChunks: b.agg.Pending(),
			BytesAppended: am.BytesAppendCount.Load(),
			BatchesSent:   am.BatchSendCount.Load(),
			BytesSent:     am.BytesSendCount.Load(),
			SendErrors:    am.SendErrCount.Load(),
			BytesDropped:  am.BytesDroppedCount.Load(),
		},
		Inbound: InboundStatus{
			Messages:     b.metrics.InboundMsgCount.Load(),
			BytesWritten: b.metrics.InboundBytesCount.Load(),
			WriteErrors:  b.metrics.SerialWriteErrCount.Load(),
		},
	}

	if err := b.Err(); err != nil {
		st.Error = err.Error()
	}

	if sm, ok := b.serial.(interface {
		GetMetrics() *serialport.ChannelMetrics
	}); ok {
		m := sm.GetMetrics()
		st.Serial = &SerialStatus{
			BytesReceived: m.BytesRecvCount.Load(),
			BytesSent:     m.BytesSendCount.Load(),
			ReadErrors:    m.ReadErrCount.Load(),
			WriteErrors:   m.WriteErrCount.Load(),
		}
	}

	if rr, ok := b.remote.(remote.StatusReporter); ok {
		m := rr.GetMetrics()
		st.Remote = &RemoteStatus{
			FramesSent:     m.FrameSendCount.Load(),
			FramesReceived: m.FrameRecvCount.Load(),
			SendErrors:     m.SendErrCount.Load(),
			Connects:       m.ConnectCount.Load(),
			RetryAttempts:  m.ConnRetryGauge.Load(),
		}
	}

	return st
}
