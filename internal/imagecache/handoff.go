package imagecache

import (
	"image"
	"sync"
)

// Notification tells one consumer how a load attempt ended. Err is a *LoadError or
// *SchemeError when Image is nil.
type Notification struct {
	URI      string
	Consumer ConsumerID
	Image    *image.RGBA
	Err      error
}

// handoff queues notifications from workers until the owning goroutine drains them.
type handoff struct {
	mu    sync.Mutex
	items []Notification
}

func (h *handoff) push(n ...Notification) {
	if len(n) == 0 {
		return
	}
	h.mu.Lock()
	h.items = append(h.items, n...)
	h.mu.Unlock()
}

func (h *handoff) take() []Notification {
	h.mu.Lock()
	items := h.items
	h.items = nil
	h.mu.Unlock()
	return items
}

func (h *handoff) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}
