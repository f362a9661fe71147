package board

import (
	"sync"

	"github.com/Markk-dev/Temet-sub000/internal/domain"
)

// Hub fans partition-change notifications out to registered listeners. It is
// owned by the composition root and passed to whoever needs it; there is no
// package-level instance. Subscribe returns the unsubscribe handle so a
// listener's lifecycle is explicit.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]func(domain.Status)
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(domain.Status))}
}

// Subscribe registers fn to be called with each status partition that
// changes. The returned function removes the subscription; calling it more
// than once is safe.
func (h *Hub) Subscribe(fn func(domain.Status)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Publish notifies every listener that the given partition changed.
// Listeners run on the caller's goroutine, matching the single-threaded
// event-handler model the reconciler lives in.
func (h *Hub) Publish(status domain.Status) {
	h.mu.Lock()
	fns := make([]func(domain.Status), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
}
