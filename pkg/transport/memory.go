package transport

import (
	"context"
	"sync"

	"github.com/ryandielhenn/pingack/pkg/detector"
)

// DropFunc reports whether a message should be lost in transit.
type DropFunc func(from, to detector.Address, msg detector.Message) bool

// Bus is an in-process channel shared by any number of endpoints.
// Broadcasts reach every attached endpoint except the sender.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[detector.Address][]*Endpoint
	drop      DropFunc
	inboxSize int
}

func NewBus() *Bus {
	return &Bus{
		endpoints: make(map[detector.Address][]*Endpoint),
		inboxSize: DefaultInboxSize,
	}
}

// SetDropFunc installs f to simulate message loss. nil disables loss.
func (b *Bus) SetDropFunc(f DropFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drop = f
}

// Attach subscribes a new endpoint at addr. Several endpoints may share an
// address; each receives the messages sent to it.
func (b *Bus) Attach(addr detector.Address) *Endpoint {
	e := &Endpoint{
		bus:   b,
		addr:  addr,
		inbox: NewInbox(b.inboxSize),
	}
	b.mu.Lock()
	b.endpoints[addr] = append(b.endpoints[addr], e)
	b.mu.Unlock()
	return e
}

func (b *Bus) detach(e *Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	eps := b.endpoints[e.addr]
	for i, x := range eps {
		if x == e {
			b.endpoints[e.addr] = append(eps[:i], eps[i+1:]...)
			break
		}
	}
	if len(b.endpoints[e.addr]) == 0 {
		delete(b.endpoints, e.addr)
	}
}

func (b *Bus) publish(from *Endpoint, to detector.Address, msg detector.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	env := detector.Envelope{Src: from.addr, Dst: to, Data: msg}
	for addr, eps := range b.endpoints {
		if to != detector.Broadcast && addr != to {
			continue
		}
		for _, ep := range eps {
			if ep == from {
				continue
			}
			if b.drop != nil && b.drop(from.addr, addr, msg) {
				continue
			}
			d, ok := Route(ep.addr, env)
			if !ok {
				continue
			}
			ep.inbox.Deliver(d)
		}
	}
}

// Endpoint is one process's view of a Bus.
type Endpoint struct {
	bus   *Bus
	addr  detector.Address
	inbox *Inbox
}

var _ Transport = (*Endpoint)(nil)

func (e *Endpoint) Address() detector.Address { return e.addr }

func (e *Endpoint) Send(ctx context.Context, to detector.Address, msg detector.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.inbox.Closed() {
		return ErrClosed
	}
	e.bus.publish(e, to, msg)
	return nil
}

func (e *Endpoint) Inbound() <-chan detector.Delivery { return e.inbox.C() }

func (e *Endpoint) Close() error {
	e.bus.detach(e)
	e.inbox.Close()
	return nil
}
