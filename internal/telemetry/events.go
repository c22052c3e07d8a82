package telemetry

import "github.com/ryandielhenn/pingack/pkg/detector"

// Drop reasons used outside the detector.
const (
	DropMalformed = "malformed"
	DropInboxFull = "inbox_full"
)

// ObserveEvent folds one detector event into the metrics above.
func ObserveEvent(ev detector.Event) {
	switch ev.Type {
	case detector.EventWorkerRegistered:
		Registrations.WithLabelValues("new").Inc()
		RegisteredWorkers.Inc()
	case detector.EventWorkerReregistered:
		Registrations.WithLabelValues("duplicate").Inc()
	case detector.EventProbeBroadcast:
		ProbeCycles.Inc()
	case detector.EventSuspicionRaised:
		SuspicionLevel.Observe(float64(ev.Suspicion))
	case detector.EventWorkerFailed:
		SuspicionLevel.Observe(float64(ev.Suspicion))
		FailuresDeclared.Inc()
		RegisteredWorkers.Dec()
	case detector.EventWorkerAlive:
		ResponseAge.Observe(ev.Elapsed.Seconds())
	case detector.EventResponseIgnored:
		ResponseAge.Observe(ev.Elapsed.Seconds())
		MessagesDropped.WithLabelValues(ev.Reason).Inc()
	case detector.EventMessageIgnored:
		MessagesDropped.WithLabelValues(ev.Reason).Inc()
	case detector.EventRegistrationAcknowledged:
		WorkerRegistered.Set(1)
	}
}
