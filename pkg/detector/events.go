package detector

import (
	"fmt"
	"time"
)

type EventType uint8

const (
	// coordinator
	EventWorkerRegistered EventType = iota + 1
	EventWorkerReregistered
	EventProbeBroadcast
	EventSuspicionRaised
	EventWorkerFailed
	EventWorkerAlive
	EventResponseIgnored

	// worker
	EventRegistrationSent
	EventRegistrationAcknowledged
	EventProbeAnswered

	// both
	EventMessageIgnored
)

var eventNames = map[EventType]string{
	EventWorkerRegistered:         "worker_registered",
	EventWorkerReregistered:       "worker_reregistered",
	EventProbeBroadcast:           "probe_broadcast",
	EventSuspicionRaised:          "suspicion_raised",
	EventWorkerFailed:             "worker_failed",
	EventWorkerAlive:              "worker_alive",
	EventResponseIgnored:          "response_ignored",
	EventRegistrationSent:         "registration_sent",
	EventRegistrationAcknowledged: "registration_acknowledged",
	EventProbeAnswered:            "probe_answered",
	EventMessageIgnored:           "message_ignored",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return fmt.Sprintf("EventType(%d)", uint8(t))
}

// Reasons attached to EventResponseIgnored and EventMessageIgnored.
const (
	ReasonUnknownSender = "unknown_sender"
	ReasonStale         = "stale"
	ReasonUnexpected    = "unexpected"
	ReasonDuplicateAck  = "duplicate_ack"
)

// Event is an observable protocol transition.
type Event struct {
	Type      EventType
	Addr      Address
	Suspicion int
	// Elapsed is set on response events: now minus the response timestamp.
	Elapsed time.Duration
	// Workers is the registry size, set on probe broadcasts.
	Workers int
	Kind    Kind
	Reason  string
}

// Effects is what a handler asks the caller to do.
type Effects struct {
	Sends  []Send
	Events []Event
}

func (e *Effects) send(to Address, m Message) {
	e.Sends = append(e.Sends, Send{To: to, Msg: m})
}

func (e *Effects) emit(ev Event) {
	e.Events = append(e.Events, ev)
}
