// Package discovery keeps a process's presence in etcd alive and announces
// which detector addresses are in use.
package discovery

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const DialTimeout = 5 * time.Second

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: DialTimeout,
	})
}

// Session is a lease kept alive for the lifetime of the process. Keys
// written under it disappear when the process stops refreshing it.
type Session struct {
	cli    *clientv3.Client
	kv     clientv3.KV
	lease  clientv3.LeaseID
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession grants a lease with the given TTL and keeps it alive until
// Close.
func NewSession(ctx context.Context, cli *clientv3.Client, ttl int64, log *zap.Logger) (*Session, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return nil, fmt.Errorf("grant lease: %w", err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("keepalive lease %x: %w", lease.ID, err)
	}

	s := &Session{cli: cli, kv: cli, lease: lease.ID, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		// drain responses or the client queues them forever
		for range ch {
		}
		if kaCtx.Err() == nil {
			log.Warn("lease keepalive stopped", zap.String("lease", fmt.Sprintf("%x", lease.ID)))
		}
	}()
	return s, nil
}

func (s *Session) Lease() clientv3.LeaseID { return s.lease }

// KV is the key-value API the session writes through.
func (s *Session) KV() clientv3.KV { return s.kv }

// Close stops the keepalive and revokes the lease.
func (s *Session) Close() error {
	s.cancel()
	<-s.done
	ctx, cancel := context.WithTimeout(context.Background(), DialTimeout)
	defer cancel()
	_, err := s.cli.Revoke(ctx, s.lease)
	return err
}

func MemberKey(topic string, addr int64) string {
	return path.Join(topic, "members", strconv.FormatInt(addr, 10))
}

// Announce records addr under the session lease. It reports whether another
// live process had already announced the same address; the announcement is
// written either way.
func Announce(ctx context.Context, s *Session, topic string, addr int64, holder string) (collision bool, err error) {
	key := MemberKey(topic, addr)
	resp, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	for _, kv := range resp.Kvs {
		if clientv3.LeaseID(kv.Lease) != s.lease {
			collision = true
		}
	}
	if _, err := s.kv.Put(ctx, key, holder, clientv3.WithLease(s.lease)); err != nil {
		return collision, fmt.Errorf("put %s: %w", key, err)
	}
	return collision, nil
}

// Members lists the addresses currently announced under topic.
func Members(ctx context.Context, kv clientv3.KV, topic string) (map[int64]string, error) {
	prefix := path.Join(topic, "members") + "/"
	resp, err := kv.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		addr, err := strconv.ParseInt(path.Base(string(kv.Key)), 10, 64)
		if err != nil {
			continue
		}
		out[addr] = string(kv.Value)
	}
	return out, nil
}
