package node

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/ryandielhenn/pingack/pkg/detector"
	"github.com/ryandielhenn/pingack/pkg/transport"
)

const interval = 5 * time.Second

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func recv(t *testing.T, e *transport.Endpoint) detector.Delivery {
	t.Helper()
	select {
	case d := <-e.Inbound():
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("endpoint %d: no delivery", e.Address())
		return detector.Delivery{}
	}
}

type recorder struct {
	mu  sync.Mutex
	evs []detector.Event
}

func (r *recorder) Observe(ev detector.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) count(t detector.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.evs {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func run(t *testing.T, n *Node) (stop func() error) {
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- n.Run(ctx) }()
	var once sync.Once
	var err error
	stop = func() error {
		once.Do(func() {
			cancel()
			err = <-errc
		})
		return err
	}
	t.Cleanup(func() { stop() })
	return stop
}

func TestWorkerRetriesEveryInterval(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.UnixMilli(0))
	bus := transport.NewBus()
	coord := bus.Attach(detector.CoordinatorAddress)

	w := NewWorker(bus.Attach(42), 42, interval, WithClock(fc), WithLogger(zaptest.NewLogger(t)))
	run(t, w)

	first := recv(t, coord)
	if first.From != 42 || first.Msg.Kind != detector.KindRegister || first.Msg.SentAt != 0 {
		t.Fatalf("first delivery = %+v, want Register at 0", first)
	}

	for i := 1; i <= 4; i++ {
		eventually(t, "retry timer", fc.HasWaiters)
		fc.Step(interval)
		d := recv(t, coord)
		want := int64(i) * interval.Milliseconds()
		if d.Msg.Kind != detector.KindRegister || d.Msg.SentAt != want {
			t.Fatalf("retry %d = %+v, want Register at %d", i, d, want)
		}
	}
	if w.Registered() {
		t.Fatalf("worker registered without an ack")
	}
}

func TestWorkerStopsRetryingOnceAcked(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.UnixMilli(0))
	bus := transport.NewBus()
	coord := bus.Attach(detector.CoordinatorAddress)

	w := NewWorker(bus.Attach(42), 42, interval, WithClock(fc), WithLogger(zaptest.NewLogger(t)))
	run(t, w)

	recv(t, coord)
	coord.Send(context.Background(), 42, detector.RegisterAck(fc.Now()))
	eventually(t, "registration", w.Registered)
	eventually(t, "retry timer stopped", func() bool { return !fc.HasWaiters() })

	fc.Step(3 * interval)
	select {
	case d := <-coord.Inbound():
		t.Fatalf("unexpected delivery after ack: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCoordinatorProbesEmptyRegistry(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.UnixMilli(0))
	bus := transport.NewBus()
	listener := bus.Attach(7)

	c := NewCoordinator(bus.Attach(detector.CoordinatorAddress), detector.DefaultPolicy(), interval,
		WithClock(fc), WithLogger(zaptest.NewLogger(t)))
	run(t, c)

	eventually(t, "probe ticker", fc.HasWaiters)
	fc.Step(interval)
	d := recv(t, listener)
	if !d.Broadcast || d.Msg.Kind != detector.KindProbe || d.Msg.SentAt != interval.Milliseconds() {
		t.Fatalf("delivery = %+v, want broadcast probe at 5000", d)
	}
}

func TestDetectorEndToEnd(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.UnixMilli(0))
	bus := transport.NewBus()
	log := zaptest.NewLogger(t)
	events := &recorder{}

	c := NewCoordinator(bus.Attach(detector.CoordinatorAddress), detector.DefaultPolicy(), interval,
		WithClock(fc), WithLogger(log), WithSinks(events))
	run(t, c)
	eventually(t, "probe ticker", fc.HasWaiters)

	workerEnd := bus.Attach(42)
	w := NewWorker(workerEnd, 42, interval, WithClock(fc), WithLogger(log))
	stopWorker := run(t, w)
	eventually(t, "registration", w.Registered)

	// registered worker answers the probe and stays clean
	fc.Step(interval)
	eventually(t, "probe answered", func() bool { return events.count(detector.EventWorkerAlive) == 1 })
	if diff := cmp.Diff([]detector.WorkerRecord{{Address: 42}}, c.Workers()); diff != "" {
		t.Fatalf("registry mismatch (-want +got):\n%s", diff)
	}

	// worker crashes
	if err := stopWorker(); err != nil {
		t.Fatalf("worker Run = %v", err)
	}
	workerEnd.Close()

	for level := 1; level <= 2; level++ {
		fc.Step(interval)
		eventually(t, "suspicion raised", func() bool {
			ws := c.Workers()
			return len(ws) == 1 && ws[0].Suspicion == level
		})
	}
	fc.Step(interval)
	eventually(t, "eviction", func() bool { return len(c.Workers()) == 0 })
	if got := events.count(detector.EventWorkerFailed); got != 1 {
		t.Fatalf("worker_failed events = %d, want 1", got)
	}
}

func TestLostResponsesLeadToEviction(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.UnixMilli(0))
	bus := transport.NewBus()
	bus.SetDropFunc(func(from, _ detector.Address, m detector.Message) bool {
		return from == 9 && m.Kind == detector.KindProbeResponse
	})
	log := zaptest.NewLogger(t)

	c := NewCoordinator(bus.Attach(detector.CoordinatorAddress), detector.DefaultPolicy(), interval,
		WithClock(fc), WithLogger(log))
	run(t, c)
	eventually(t, "probe ticker", fc.HasWaiters)

	w := NewWorker(bus.Attach(9), 9, interval, WithClock(fc), WithLogger(log))
	run(t, w)
	eventually(t, "registration", w.Registered)

	for level := 1; level <= 2; level++ {
		fc.Step(interval)
		eventually(t, "suspicion raised", func() bool {
			ws := c.Workers()
			return len(ws) == 1 && ws[0].Suspicion == level
		})
	}
	fc.Step(interval)
	eventually(t, "eviction", func() bool { return len(c.Workers()) == 0 })

	// the worker never notices it was dropped
	if !w.Registered() {
		t.Fatalf("evicted worker left the registered state")
	}
}

func TestRunReturnsWhenInboundCloses(t *testing.T) {
	bus := transport.NewBus()
	end := bus.Attach(detector.CoordinatorAddress)
	c := NewCoordinator(end, detector.DefaultPolicy(), interval, WithClock(clocktesting.NewFakeClock(time.Now())))

	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()
	end.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrInboundClosed) {
			t.Fatalf("Run = %v, want ErrInboundClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
	}
}

func TestInfo(t *testing.T) {
	bus := transport.NewBus()
	fc := clocktesting.NewFakeClock(time.UnixMilli(0))
	c := NewCoordinator(bus.Attach(detector.CoordinatorAddress), detector.DefaultPolicy(), interval, WithClock(fc))
	c.apply(context.Background(), c.coord.Handle(detector.Delivery{From: 3, Msg: detector.Register(fc.Now())}, fc.Now()))

	rec := httptest.NewRecorder()
	c.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got struct {
		Role       string                  `json:"role"`
		Address    int64                   `json:"address"`
		Registered *bool                   `json:"registered"`
		Workers    []detector.WorkerRecord `json:"workers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Role != "coordinator" || got.Address != 1000 || got.Registered != nil {
		t.Fatalf("info = %+v", got)
	}
	if diff := cmp.Diff([]detector.WorkerRecord{{Address: 3}}, got.Workers); diff != "" {
		t.Fatalf("workers mismatch (-want +got):\n%s", diff)
	}

	w := NewWorker(bus.Attach(3), 3, interval, WithClock(fc))
	rec = httptest.NewRecorder()
	w.Info(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Registered == nil || *got.Registered {
		t.Fatalf("worker info registered = %v, want false", got.Registered)
	}
}
