// Package remote implements the network side of the bridge: a bidirectional
// message channel to a remote relay service.
//
// The bridge only depends on the Channel interface. Two implementations are
// provided, selected by ConnectionConfig.TransportMode:
//
//   - WSClient exchanges JSON frames over one WebSocket connection.
//   - PollClient posts frames over HTTP and long polls for incoming frames.
//
// Both announce themselves with a connect frame carrying the connect name,
// password, device name and network names, and treat an error reply as an
// authentication failure that is not retried. Any other failure marks the
// channel disconnected and starts a reconnect loop with exponential backoff
// (100 ms doubling up to 30 s) until Disconnect is called.
//
// Handlers registered with OnReceive and OnConnectionStatusChanged are called
// from goroutines owned by the channel, never from the caller of Send.
package remote
