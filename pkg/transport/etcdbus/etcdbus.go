// Package etcdbus uses etcd watches as a publish/subscribe channel.
//
// A message from src to dst is a PUT of <topic>/msg/<dst>/<src>. Each process
// watches its own prefix and the broadcast prefix. Keys are written under
// the sender's session lease, so a process leaves at most one key per
// destination behind and those keys expire with it.
package etcdbus

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ryandielhenn/pingack/discovery"
	"github.com/ryandielhenn/pingack/internal/telemetry"
	"github.com/ryandielhenn/pingack/pkg/detector"
	"github.com/ryandielhenn/pingack/pkg/transport"
)

const (
	DefaultTopic = "/pingack"
	// DefaultLeaseTTL is in seconds.
	DefaultLeaseTTL = 10
	// DefaultReopenDelay spaces out attempts to re-open a watch that etcd
	// closed, e.g. while the cluster has no leader.
	DefaultReopenDelay = 500 * time.Millisecond
)

type Config struct {
	Endpoints []string
	Topic     string
	Self      detector.Address
	LeaseTTL  int64
	InboxSize int
	Logger    *zap.Logger
}

type Transport struct {
	cfg     Config
	cli     *clientv3.Client
	watcher clientv3.Watcher
	session *discovery.Session
	inbox   *transport.Inbox
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	log     *zap.Logger

	reopenDelay time.Duration
}

var _ transport.Transport = (*Transport)(nil)

// Dial connects to etcd, opens a session and starts watching. Connection
// and lease failures are reported as transport.ErrUnavailable.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	log := cfg.Logger.Named("transport.etcd").With(zap.Int64("self", int64(cfg.Self)))

	cli, err := discovery.NewClient(cfg.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("%w: etcd %v: %v", transport.ErrUnavailable, cfg.Endpoints, err)
	}
	session, err := discovery.NewSession(ctx, cli, cfg.LeaseTTL, log)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("%w: %v", transport.ErrUnavailable, err)
	}
	return open(cli, session, cfg, log), nil
}

func open(cli *clientv3.Client, session *discovery.Session, cfg Config, log *zap.Logger) *Transport {
	wctx, cancel := context.WithCancel(clientv3.WithRequireLeader(context.Background()))
	t := &Transport{
		cfg:     cfg,
		cli:     cli,
		watcher: cli,
		session: session,
		inbox:   transport.NewInbox(cfg.InboxSize),
		ctx:     wctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     log,

		reopenDelay: DefaultReopenDelay,
	}

	go t.watch(DestinationPrefix(cfg.Topic, cfg.Self), DestinationPrefix(cfg.Topic, detector.Broadcast))

	log.Info("connected", zap.Strings("endpoints", cfg.Endpoints), zap.String("topic", cfg.Topic))
	return t
}

func DestinationPrefix(topic string, dst detector.Address) string {
	return path.Join(topic, "msg", strconv.FormatInt(int64(dst), 10)) + "/"
}

func messageKey(topic string, dst, src detector.Address) string {
	return DestinationPrefix(topic, dst) + strconv.FormatInt(int64(src), 10)
}

// watch follows every prefix until the transport is closed.
func (t *Transport) watch(prefixes ...string) {
	defer close(t.done)
	var wg sync.WaitGroup
	for _, p := range prefixes {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			t.follow(p)
		}(p)
	}
	wg.Wait()
}

// follow keeps one prefix watched. etcd closes a watch channel on leader
// loss or compaction even though t.ctx is live; the watch is then re-opened
// just after the last revision it delivered.
func (t *Transport) follow(prefix string) {
	var rev int64
	for {
		opts := []clientv3.OpOption{clientv3.WithPrefix()}
		if rev > 0 {
			opts = append(opts, clientv3.WithRev(rev+1))
		}
		for resp := range t.watcher.Watch(t.ctx, prefix, opts...) {
			if resp.CompactRevision != 0 {
				rev = resp.CompactRevision - 1
			}
			if err := resp.Err(); err != nil {
				t.log.Warn("watch error", zap.String("prefix", prefix), zap.Error(err))
				continue
			}
			for _, ev := range resp.Events {
				t.handle(ev)
				if ev.Kv != nil && ev.Kv.ModRevision > rev {
					rev = ev.Kv.ModRevision
				}
			}
		}
		if t.ctx.Err() != nil {
			return
		}
		t.log.Warn("watch closed, reopening", zap.String("prefix", prefix), zap.Int64("after_rev", rev))
		select {
		case <-t.ctx.Done():
			return
		case <-time.After(t.reopenDelay):
		}
	}
}

func (t *Transport) handle(ev *clientv3.Event) {
	if ev.Type != mvccpb.PUT {
		return
	}
	env, err := detector.Decode(ev.Kv.Value)
	if err != nil {
		telemetry.MessagesDropped.WithLabelValues(telemetry.DropMalformed).Inc()
		t.log.Debug("dropping malformed message", zap.ByteString("key", ev.Kv.Key), zap.Error(err))
		return
	}
	d, ok := transport.Route(t.cfg.Self, env)
	if !ok {
		return
	}
	if !t.inbox.Deliver(d) && !t.inbox.Closed() {
		telemetry.MessagesDropped.WithLabelValues(telemetry.DropInboxFull).Inc()
	}
}

// Send writes one message key. Repeated sends to the same destination
// overwrite the key; watchers still see every PUT.
func (t *Transport) Send(ctx context.Context, to detector.Address, msg detector.Message) error {
	if t.inbox.Closed() {
		return transport.ErrClosed
	}
	b, err := detector.Encode(detector.Envelope{Src: t.cfg.Self, Dst: to, Data: msg})
	if err != nil {
		return err
	}
	key := messageKey(t.cfg.Topic, to, t.cfg.Self)
	if _, err := t.cli.Put(ctx, key, string(b), clientv3.WithLease(t.session.Lease())); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (t *Transport) Inbound() <-chan detector.Delivery { return t.inbox.C() }

// Session exposes the lease so callers can announce membership under it.
func (t *Transport) Session() *discovery.Session { return t.session }

func (t *Transport) Close() error {
	if t.inbox.Closed() {
		return nil
	}
	t.cancel()
	<-t.done
	t.inbox.Close()
	return multierr.Combine(t.session.Close(), t.cli.Close())
}
