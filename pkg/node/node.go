package node

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/ryandielhenn/pingack/internal/telemetry"
	"github.com/ryandielhenn/pingack/pkg/detector"
	"github.com/ryandielhenn/pingack/pkg/transport"
)

// DefaultSendTimeout bounds a single transport send inside the loop.
const DefaultSendTimeout = time.Second

// ErrInboundClosed is returned by Run when the transport stops delivering.
var ErrInboundClosed = errors.New("transport inbound closed")

// EventSink observes protocol events emitted by the node's role.
type EventSink interface {
	Observe(detector.Event)
}

type SinkFunc func(detector.Event)

func (f SinkFunc) Observe(ev detector.Event) { f(ev) }

// Node runs one detector role over a transport. All role state is touched
// from the Run goroutine only.
type Node struct {
	role string
	self detector.Address
	tr   transport.Transport

	coord  *detector.Coordinator
	worker *detector.Worker

	interval    time.Duration
	sendTimeout time.Duration
	clock       clock.WithTicker
	log         *zap.Logger
	sinks       []EventSink

	registered atomic.Bool
}

type Option func(*Node)

func WithClock(c clock.WithTicker) Option { return func(n *Node) { n.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(n *Node) { n.log = l } }

func WithSinks(s ...EventSink) Option {
	return func(n *Node) { n.sinks = append(n.sinks, s...) }
}

func WithSendTimeout(d time.Duration) Option { return func(n *Node) { n.sendTimeout = d } }

func newNode(role string, self detector.Address, tr transport.Transport, interval time.Duration, opts []Option) *Node {
	n := &Node{
		role:        role,
		self:        self,
		tr:          tr,
		interval:    interval,
		sendTimeout: DefaultSendTimeout,
		clock:       clock.RealClock{},
		log:         zap.NewNop(),
	}
	for _, o := range opts {
		o(n)
	}
	n.log = n.log.Named(role).With(zap.Int64("self", int64(self)))
	return n
}

// NewCoordinator returns a node that probes every probeInterval.
func NewCoordinator(tr transport.Transport, p detector.Policy, probeInterval time.Duration, opts ...Option) *Node {
	n := newNode("coordinator", detector.CoordinatorAddress, tr, probeInterval, opts)
	n.coord = detector.NewCoordinator(p)
	return n
}

// NewWorker returns a node that retries registration every retryInterval.
func NewWorker(tr transport.Transport, self detector.Address, retryInterval time.Duration, opts ...Option) *Node {
	n := newNode("worker", self, tr, retryInterval, opts)
	n.worker = detector.NewWorker(self)
	return n
}

func (n *Node) Role() string { return n.role }

func (n *Node) Addr() detector.Address { return n.self }

// Registered reports whether a worker node has been acknowledged.
func (n *Node) Registered() bool { return n.registered.Load() }

// Workers returns a copy of the coordinator's registry, or nil for workers.
func (n *Node) Workers() []detector.WorkerRecord {
	if n.coord == nil {
		return nil
	}
	return n.coord.Registry().Snapshot()
}

// Run drives the role until ctx is cancelled or the transport closes.
func (n *Node) Run(ctx context.Context) error {
	n.log.Info("starting", zap.Duration("interval", n.interval))
	if n.coord != nil {
		return n.runCoordinator(ctx)
	}
	return n.runWorker(ctx)
}

func (n *Node) runCoordinator(ctx context.Context) error {
	ticker := n.clock.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-n.tr.Inbound():
			if !ok {
				return ErrInboundClosed
			}
			n.received(d)
			n.apply(ctx, n.coord.Handle(d, n.clock.Now()))
		case <-ticker.C():
			n.apply(ctx, n.coord.Tick(n.clock.Now()))
		}
	}
}

func (n *Node) runWorker(ctx context.Context) error {
	n.apply(ctx, n.worker.Start(n.clock.Now()))

	timer := n.clock.NewTimer(n.interval)
	defer timer.Stop()
	retry := timer.C()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-n.tr.Inbound():
			if !ok {
				return ErrInboundClosed
			}
			n.received(d)
			n.apply(ctx, n.worker.Handle(d, n.clock.Now()))
			if retry != nil && n.worker.Registered() {
				timer.Stop()
				retry = nil
			}
		case <-retry:
			eff, again := n.worker.Retry(n.clock.Now())
			n.apply(ctx, eff)
			if again {
				timer.Reset(n.interval)
			} else {
				retry = nil
			}
		}
	}
}

func (n *Node) received(d detector.Delivery) {
	telemetry.MessagesReceived.WithLabelValues(d.Msg.Kind.String()).Inc()
}

// apply performs the sends and publishes the events of one handler run.
// Send failures are logged; the loop never stops because of them.
func (n *Node) apply(ctx context.Context, eff detector.Effects) {
	for _, s := range eff.Sends {
		kind := s.Msg.Kind.String()
		sctx, cancel := context.WithTimeout(ctx, n.sendTimeout)
		err := n.tr.Send(sctx, s.To, s.Msg)
		cancel()
		if err != nil {
			telemetry.SendErrors.WithLabelValues(kind).Inc()
			n.log.Warn("send failed", zap.Int64("to", int64(s.To)), zap.Stringer("kind", s.Msg.Kind), zap.Error(err))
			continue
		}
		telemetry.MessagesSent.WithLabelValues(kind).Inc()
	}
	for _, ev := range eff.Events {
		if ev.Type == detector.EventRegistrationAcknowledged {
			n.registered.Store(true)
		}
		n.logEvent(ev)
		telemetry.ObserveEvent(ev)
		for _, s := range n.sinks {
			s.Observe(ev)
		}
	}
}

func (n *Node) logEvent(ev detector.Event) {
	addr := zap.Int64("addr", int64(ev.Addr))
	switch ev.Type {
	case detector.EventWorkerRegistered:
		n.log.Info("worker registered", addr)
	case detector.EventWorkerReregistered:
		n.log.Info("worker registered again", addr, zap.Int("suspicion", ev.Suspicion))
	case detector.EventWorkerFailed:
		n.log.Warn("worker declared failed", addr, zap.Int("suspicion", ev.Suspicion))
	case detector.EventSuspicionRaised:
		n.log.Debug("suspicion raised", addr, zap.Int("suspicion", ev.Suspicion))
	case detector.EventProbeBroadcast:
		if ev.Workers == 0 {
			n.log.Debug("broadcasting probe, no workers registered")
			return
		}
		n.log.Debug("broadcasting probe", zap.Int("workers", ev.Workers))
	case detector.EventWorkerAlive:
		n.log.Debug("worker alive", addr, zap.Duration("elapsed", ev.Elapsed))
	case detector.EventResponseIgnored:
		n.log.Debug("probe response ignored", addr, zap.String("reason", ev.Reason), zap.Duration("elapsed", ev.Elapsed))
	case detector.EventRegistrationSent:
		n.log.Info("trying to register", zap.Int64("coordinator", int64(ev.Addr)))
	case detector.EventRegistrationAcknowledged:
		n.log.Info("registration acknowledged", zap.Int64("coordinator", int64(ev.Addr)))
	case detector.EventProbeAnswered:
		n.log.Debug("answered probe", addr)
	case detector.EventMessageIgnored:
		n.log.Debug("message ignored", addr, zap.Stringer("kind", ev.Kind), zap.String("reason", ev.Reason))
	}
}
