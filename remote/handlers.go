package remote

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// handlerRegistry stores receive and status handlers and tracks the
// connection status. Handlers see real transitions and failed attempts.
type handlerRegistry struct {
	nextID    atomic.Uint64
	receive   *xsync.MapOf[uint64, func(*Message)]
	status    *xsync.MapOf[uint64, func(bool)]
	connected atomic.Bool
}

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{
		receive: xsync.NewMapOf[uint64, func(*Message)](),
		status:  xsync.NewMapOf[uint64, func(bool)](),
	}
}

func (r *handlerRegistry) addReceive(fn func(*Message)) {
	if fn != nil {
		r.receive.Store(r.nextID.Add(1), fn)
	}
}

func (r *handlerRegistry) addStatus(fn func(bool)) {
	if fn != nil {
		r.status.Store(r.nextID.Add(1), fn)
	}
}

func (r *handlerRegistry) dispatch(msg *Message) {
	r.receive.Range(func(_ uint64, fn func(*Message)) bool {
		fn(msg)
		return true
	})
}

// setConnected records the status and notifies the status handlers when it changed.
func (r *handlerRegistry) setConnected(connected bool) bool {
	if r.connected.Swap(connected) == connected {
		return false
	}

	r.status.Range(func(_ uint64, fn func(bool)) bool {
		fn(connected)
		return true
	})

	return true
}

// notifyFailed reports a failed connection attempt. Status handlers are
// called with false even when the channel was already disconnected.
func (r *handlerRegistry) notifyFailed() {
	r.connected.Store(false)
	r.status.Range(func(_ uint64, fn func(bool)) bool {
		fn(false)
		return true
	})
}

func (r *handlerRegistry) isConnected() bool {
	return r.connected.Load()
}
