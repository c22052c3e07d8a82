package detector

import "time"

type RegistrationState uint8

const (
	Unregistered RegistrationState = iota
	Registered
)

func (s RegistrationState) String() string {
	if s == Registered {
		return "registered"
	}
	return "unregistered"
}

// Worker registers with the coordinator and answers its probes. Once the
// coordinator acknowledges, the worker stays Registered for the rest of its
// life, even if the coordinator later declares it failed.
type Worker struct {
	self        Address
	coordinator Address
	state       RegistrationState
}

func NewWorker(self Address) *Worker {
	return &Worker{self: self, coordinator: CoordinatorAddress}
}

func (w *Worker) Address() Address { return w.self }

func (w *Worker) State() RegistrationState { return w.state }

func (w *Worker) Registered() bool { return w.state == Registered }

// Start sends the first registration request.
func (w *Worker) Start(now time.Time) Effects {
	var eff Effects
	w.register(now, &eff)
	return eff
}

// Retry is called every retry interval. It re-sends Register while the
// worker is unregistered and reports whether the retry timer should be
// armed again.
func (w *Worker) Retry(now time.Time) (Effects, bool) {
	var eff Effects
	if w.state == Registered {
		return eff, false
	}
	w.register(now, &eff)
	return eff, true
}

func (w *Worker) register(now time.Time, eff *Effects) {
	eff.send(w.coordinator, Register(now))
	eff.emit(Event{Type: EventRegistrationSent, Addr: w.coordinator})
}

// Handle processes one inbound delivery. Probes are answered in any state.
func (w *Worker) Handle(d Delivery, now time.Time) Effects {
	var eff Effects
	switch {
	case d.Broadcast && d.Msg.Kind == KindProbe:
		eff.send(w.coordinator, ProbeResponse(now))
		eff.emit(Event{Type: EventProbeAnswered, Addr: d.From, Elapsed: d.Msg.Age(now)})
	case !d.Broadcast && d.Msg.Kind == KindRegisterAck:
		if w.state == Registered {
			eff.emit(Event{Type: EventMessageIgnored, Addr: d.From, Kind: d.Msg.Kind, Reason: ReasonDuplicateAck})
			return eff
		}
		w.state = Registered
		eff.emit(Event{Type: EventRegistrationAcknowledged, Addr: d.From})
	default:
		eff.emit(Event{Type: EventMessageIgnored, Addr: d.From, Kind: d.Msg.Kind, Reason: ReasonUnexpected})
	}
	return eff
}
