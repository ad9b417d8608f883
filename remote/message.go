package remote

// Message is one unit of data exchanged with the remote service.
// The payload is not interpreted by the channel.
type Message struct {
	Payload  []byte
	DataType string
	// Sender identifies the origin of a received message. It is ignored on send.
	Sender string
}

// FrameType identifies the purpose of a wire frame.
type FrameType string

const (
	FrameConnect   FrameType = "connect"
	FrameConnected FrameType = "connected"
	FrameData      FrameType = "data"
	FrameError     FrameType = "error"
)

// Frame is the JSON wire representation shared by both transports.
type Frame struct {
	Type        FrameType `json:"type"`
	ConnectName string    `json:"connectName,omitempty"`
	Password    string    `json:"password,omitempty"`
	Networks    []string  `json:"networks,omitempty"`
	Name        string    `json:"name,omitempty"`
	Session     string    `json:"session,omitempty"`
	Data        string    `json:"data,omitempty"`
	DataType    string    `json:"dataType,omitempty"`
	From        string    `json:"from,omitempty"`
	To          []string  `json:"to,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// NewDataFrame builds the data frame carrying msg.
//
// The payload travels as a JSON string, so bytes that are not valid UTF-8 are
// replaced during encoding.
func NewDataFrame(msg *Message) *Frame {
	return &Frame{
		Type:     FrameData,
		Data:     string(msg.Payload),
		DataType: msg.DataType,
	}
}

// Message returns the message carried by a data frame.
func (f *Frame) Message() *Message {
	return &Message{
		Payload:  []byte(f.Data),
		DataType: f.DataType,
		Sender:   f.From,
	}
}

func newConnectFrame(cfg *ConnectionConfig) *Frame {
	return &Frame{
		Type:        FrameConnect,
		ConnectName: cfg.connectName,
		Password:    cfg.password,
		Networks:    cfg.NetworkNames(),
		Name:        cfg.deviceName,
	}
}
