// Package transport moves detector messages between addressed processes.
//
// Implementations are fire-and-forget: Send returning nil only means the
// message was handed to the channel, not that anyone received it. Inbound
// deliveries carry a Broadcast flag so roles can tell a message sent to
// everybody from one sent to them alone.
//
// Concrete implementations: Bus (in-process, for tests and local runs),
// mqtt.Transport and etcdbus.Transport.
package transport

import (
	"context"
	"errors"

	"github.com/ryandielhenn/pingack/pkg/detector"
)

// ErrUnavailable is returned when a transport cannot reach its broker.
var ErrUnavailable = errors.New("transport unavailable")

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// DefaultInboxSize bounds the number of undelivered inbound messages. Once
// full, new messages are dropped.
const DefaultInboxSize = 256

type Transport interface {
	Send(ctx context.Context, to detector.Address, msg detector.Message) error
	Inbound() <-chan detector.Delivery
	Close() error
}

// Route decides whether an envelope read off a shared channel is meant for
// self, and turns it into a delivery. Envelopes from self are skipped.
func Route(self detector.Address, e detector.Envelope) (detector.Delivery, bool) {
	if e.Src == self {
		return detector.Delivery{}, false
	}
	switch e.Dst {
	case detector.Broadcast:
		return detector.Delivery{From: e.Src, Msg: e.Data, Broadcast: true}, true
	case self:
		return detector.Delivery{From: e.Src, Msg: e.Data}, true
	default:
		return detector.Delivery{}, false
	}
}
