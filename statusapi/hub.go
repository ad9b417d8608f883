package statusapi

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

const subscriberBufferSize = 16

// Hub fans status lines out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the line.
type Hub struct {
	subs   *xsync.MapOf[uint64, chan string]
	nextID atomic.Uint64
	last   atomic.Pointer[string]
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: xsync.NewMapOf[uint64, chan string]()}
}

// Publish sends line to every subscriber and remembers it as the last line.
func (h *Hub) Publish(line string) {
	h.last.Store(&line)

	h.subs.Range(func(_ uint64, ch chan string) bool {
		select {
		case ch <- line:
		default:
		}

		return true
	})
}

// Last returns the most recently published line, or "" when nothing was published.
func (h *Hub) Last() string {
	if p := h.last.Load(); p != nil {
		return *p
	}

	return ""
}

// Subscribe registers a subscriber. The returned channel is never closed;
// the subscriber stops reading after Unsubscribe.
func (h *Hub) Subscribe() (uint64, <-chan string) {
	id := h.nextID.Add(1)
	ch := make(chan string, subscriberBufferSize)
	h.subs.Store(id, ch)

	return id, ch
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(id uint64) {
	h.subs.Delete(id)
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	return h.subs.Size()
}
