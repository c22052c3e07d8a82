package tracing

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ryandielhenn/pingack/pkg/detector"
)

func TestAction(t *testing.T) {
	tests := []struct {
		ev   detector.Event
		want interface{}
	}{
		{detector.Event{Type: detector.EventWorkerRegistered, Addr: 42}, WorkerRegistered{Address: 42}},
		{detector.Event{Type: detector.EventWorkerFailed, Addr: 42, Suspicion: 3}, WorkerFailed{Address: 42, Suspicion: 3}},
		{detector.Event{Type: detector.EventWorkerAlive, Addr: 42, Elapsed: 12 * time.Millisecond}, WorkerAlive{Address: 42, ElapsedMs: 12}},
		{detector.Event{Type: detector.EventProbeBroadcast, Workers: 5}, ProbeBroadcast{Workers: 5}},
		{detector.Event{Type: detector.EventRegistrationAcknowledged, Addr: 1000}, RegistrationAcknowledged{Coordinator: 1000}},
	}
	for _, tt := range tests {
		got, ok := Action(tt.ev)
		if !ok {
			t.Fatalf("Action(%v) not recorded", tt.ev.Type)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("Action(%v) mismatch (-want +got):\n%s", tt.ev.Type, diff)
		}
	}

	if _, ok := Action(detector.Event{Type: detector.EventSuspicionRaised}); ok {
		t.Fatalf("suspicion_raised should not be traced")
	}
}
