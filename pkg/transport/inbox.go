package transport

import (
	"sync"

	"github.com/ryandielhenn/pingack/pkg/detector"
)

// Inbox is a bounded, lossy delivery queue that is safe to write to after
// it has been closed.
type Inbox struct {
	mu     sync.Mutex
	ch     chan detector.Delivery
	closed bool
}

func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{ch: make(chan detector.Delivery, size)}
}

// Deliver queues d and reports whether it was accepted. A full or closed
// inbox drops the delivery.
func (in *Inbox) Deliver(d detector.Delivery) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return false
	}
	select {
	case in.ch <- d:
		return true
	default:
		return false
	}
}

func (in *Inbox) C() <-chan detector.Delivery { return in.ch }

func (in *Inbox) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// Close closes the channel; it is idempotent.
func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.closed {
		in.closed = true
		close(in.ch)
	}
}
