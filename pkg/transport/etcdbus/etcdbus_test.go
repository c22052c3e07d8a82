package etcdbus

import (
	"context"
	"testing"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/pingack/pkg/detector"
	"github.com/ryandielhenn/pingack/pkg/transport"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DestinationPrefix("/pingack", 42), "/pingack/msg/42/"},
		{DestinationPrefix("/pingack", detector.Broadcast), "/pingack/msg/0/"},
		{messageKey("/pingack", 1000, 42), "/pingack/msg/1000/42"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("key = %q, want %q", tt.got, tt.want)
		}
	}
}

func putEvent(t *testing.T, e detector.Envelope) *clientv3.Event {
	t.Helper()
	b, err := detector.Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return &clientv3.Event{
		Type: mvccpb.PUT,
		Kv:   &mvccpb.KeyValue{Key: []byte(messageKey("/pingack", e.Dst, e.Src)), Value: b},
	}
}

func TestHandleDeliversPuts(t *testing.T) {
	tr := &Transport{
		cfg:   Config{Self: 42, Topic: "/pingack"},
		inbox: transport.NewInbox(4),
		log:   zaptest.NewLogger(t),
	}

	tr.handle(putEvent(t, detector.Envelope{Src: 1000, Dst: 42, Data: detector.RegisterAck(time.UnixMilli(1))}))
	tr.handle(putEvent(t, detector.Envelope{Src: 1000, Dst: 0, Data: detector.Probe(time.UnixMilli(2))}))
	tr.handle(&clientv3.Event{Type: mvccpb.DELETE, Kv: &mvccpb.KeyValue{Key: []byte("/pingack/msg/42/1000")}})
	tr.handle(&clientv3.Event{Type: mvccpb.PUT, Kv: &mvccpb.KeyValue{Key: []byte("/pingack/msg/42/1"), Value: []byte("junk")}})

	if n := len(tr.Inbound()); n != 2 {
		t.Fatalf("deliveries = %d, want 2", n)
	}
	if d := <-tr.Inbound(); d.Broadcast || d.Msg.Kind != detector.KindRegisterAck {
		t.Fatalf("first delivery = %+v, want unicast ack", d)
	}
	if d := <-tr.Inbound(); !d.Broadcast || d.Msg.Kind != detector.KindProbe {
		t.Fatalf("second delivery = %+v, want broadcast probe", d)
	}
}

type openedWatch struct {
	key string
	rev int64
	ch  chan clientv3.WatchResponse
}

// fakeWatcher hands every opened watch to the test, which decides when the
// channel closes.
type fakeWatcher struct {
	clientv3.Watcher
	opened chan openedWatch
}

func (f *fakeWatcher) Watch(_ context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	w := openedWatch{key: key, rev: clientv3.OpGet(key, opts...).Rev(), ch: make(chan clientv3.WatchResponse, 1)}
	f.opened <- w
	return w.ch
}

func nextWatch(t *testing.T, f *fakeWatcher) openedWatch {
	t.Helper()
	select {
	case w := <-f.opened:
		return w
	case <-time.After(2 * time.Second):
		t.Fatalf("no watch opened")
		return openedWatch{}
	}
}

func TestWatchReopensClosedChannels(t *testing.T) {
	fw := &fakeWatcher{opened: make(chan openedWatch, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	tr := &Transport{
		cfg:         Config{Self: 42, Topic: "/pingack"},
		watcher:     fw,
		inbox:       transport.NewInbox(4),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		log:         zaptest.NewLogger(t),
		reopenDelay: time.Millisecond,
	}
	own, all := DestinationPrefix("/pingack", 42), DestinationPrefix("/pingack", detector.Broadcast)
	go tr.watch(own, all)

	first := map[string]openedWatch{}
	for i := 0; i < 2; i++ {
		w := nextWatch(t, fw)
		if w.rev != 0 {
			t.Fatalf("initial watch on %s starts at rev %d, want 0", w.key, w.rev)
		}
		first[w.key] = w
	}

	ack := putEvent(t, detector.Envelope{Src: 1000, Dst: 42, Data: detector.RegisterAck(time.UnixMilli(1))})
	ack.Kv.ModRevision = 7
	first[own].ch <- clientv3.WatchResponse{Events: []*clientv3.Event{ack}}
	close(first[own].ch)
	close(first[all].ch)

	again := map[string]openedWatch{}
	for i := 0; i < 2; i++ {
		w := nextWatch(t, fw)
		again[w.key] = w
	}
	if got := again[own].rev; got != 8 {
		t.Fatalf("reopened %s at rev %d, want 8", own, got)
	}
	if _, ok := again[all]; !ok {
		t.Fatalf("broadcast prefix was not re-watched: %+v", again)
	}

	cast := putEvent(t, detector.Envelope{Src: 1000, Dst: 0, Data: detector.Probe(time.UnixMilli(2))})
	cast.Kv.ModRevision = 9
	again[all].ch <- clientv3.WatchResponse{Events: []*clientv3.Event{cast}}

	for _, want := range []detector.Kind{detector.KindRegisterAck, detector.KindProbe} {
		select {
		case d, ok := <-tr.Inbound():
			if !ok {
				t.Fatalf("inbox closed while the transport is open")
			}
			if d.Msg.Kind != want {
				t.Fatalf("delivery = %+v, want %s", d, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s delivered after the watch was re-opened", want)
		}
	}

	cancel()
	close(again[own].ch)
	close(again[all].ch)
	select {
	case <-tr.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("watch loop kept running after cancel")
	}
	select {
	case w := <-fw.opened:
		t.Fatalf("watch on %s opened after cancel", w.key)
	default:
	}
}
