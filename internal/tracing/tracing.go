// Package tracing records protocol transitions as DistributedClocks trace
// actions so runs can be inspected with ShiViz.
package tracing

import (
	dctracing "github.com/DistributedClocks/tracing"

	"github.com/ryandielhenn/pingack/pkg/detector"
)

// Actions recorded by Sink.
type WorkerRegistered struct {
	Address int64
}

type WorkerFailed struct {
	Address   int64
	Suspicion int
}

type WorkerAlive struct {
	Address   int64
	ElapsedMs int64
}

type ProbeBroadcast struct {
	Workers int
}

type RegistrationAcknowledged struct {
	Coordinator int64
}

type Config struct {
	ServerAddress string
	Identity      string
	Secret        []byte
}

// Sink forwards detector events to a tracing server. All actions go into
// a single trace that spans the process lifetime.
type Sink struct {
	tracer *dctracing.Tracer
	trace  *dctracing.Trace
}

func New(cfg Config) *Sink {
	tracer := dctracing.NewTracer(dctracing.TracerConfig{
		ServerAddress:  cfg.ServerAddress,
		TracerIdentity: cfg.Identity,
		Secret:         cfg.Secret,
	})
	return &Sink{tracer: tracer, trace: tracer.CreateTrace()}
}

// Action maps an event to the action recorded for it, if any.
func Action(ev detector.Event) (interface{}, bool) {
	switch ev.Type {
	case detector.EventWorkerRegistered:
		return WorkerRegistered{Address: int64(ev.Addr)}, true
	case detector.EventWorkerFailed:
		return WorkerFailed{Address: int64(ev.Addr), Suspicion: ev.Suspicion}, true
	case detector.EventWorkerAlive:
		return WorkerAlive{Address: int64(ev.Addr), ElapsedMs: ev.Elapsed.Milliseconds()}, true
	case detector.EventProbeBroadcast:
		return ProbeBroadcast{Workers: ev.Workers}, true
	case detector.EventRegistrationAcknowledged:
		return RegistrationAcknowledged{Coordinator: int64(ev.Addr)}, true
	}
	return nil, false
}

func (s *Sink) Observe(ev detector.Event) {
	if a, ok := Action(ev); ok {
		s.trace.RecordAction(a)
	}
}

func (s *Sink) Close() {
	s.tracer.Close()
}
