package transport

import "sync"

// notifier delivers callbacks in the order they were queued, one at a time,
// and never while the transport lock is held. Whichever goroutine finds the
// queue idle drains it; others return immediately.
type notifier struct {
	mu      sync.Mutex
	pending []func()
	running bool
}

func (n *notifier) push(fn func()) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	n.pending = append(n.pending, fn)
	n.mu.Unlock()
}

func (n *notifier) drain() {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true

	for len(n.pending) > 0 {
		fn := n.pending[0]
		n.pending[0] = nil
		n.pending = n.pending[1:]
		n.mu.Unlock()
		fn()
		n.mu.Lock()
	}

	n.running = false
	n.mu.Unlock()
}
