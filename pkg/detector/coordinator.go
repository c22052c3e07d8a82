package detector

import "time"

// Coordinator tracks worker liveness. It is not safe for concurrent Handle
// and Tick calls; drive it from a single goroutine. Registry() may be read
// from anywhere.
type Coordinator struct {
	policy   Policy
	registry *Registry
}

func NewCoordinator(p Policy) *Coordinator {
	return &Coordinator{
		policy:   p,
		registry: NewRegistry(),
	}
}

func (c *Coordinator) Registry() *Registry { return c.registry }

func (c *Coordinator) Policy() Policy { return c.policy }

// Handle processes one inbound delivery. The coordinator only acts on
// unicast Register and ProbeResponse messages.
func (c *Coordinator) Handle(d Delivery, now time.Time) Effects {
	var eff Effects
	if d.Broadcast {
		eff.emit(Event{Type: EventMessageIgnored, Addr: d.From, Kind: d.Msg.Kind, Reason: ReasonUnexpected})
		return eff
	}
	switch d.Msg.Kind {
	case KindRegister:
		c.register(d.From, now, &eff)
	case KindProbeResponse:
		c.probeResponse(d.From, d.Msg, now, &eff)
	default:
		eff.emit(Event{Type: EventMessageIgnored, Addr: d.From, Kind: d.Msg.Kind, Reason: ReasonUnexpected})
	}
	return eff
}

// register is idempotent: duplicates keep their suspicion but still get an ack.
func (c *Coordinator) register(addr Address, now time.Time, eff *Effects) {
	if c.registry.Add(addr) {
		eff.emit(Event{Type: EventWorkerRegistered, Addr: addr})
	} else {
		w, _ := c.registry.Get(addr)
		eff.emit(Event{Type: EventWorkerReregistered, Addr: addr, Suspicion: w.Suspicion})
	}
	eff.send(addr, RegisterAck(now))
}

func (c *Coordinator) probeResponse(addr Address, m Message, now time.Time, eff *Effects) {
	elapsed := m.Age(now)
	w, ok := c.registry.Get(addr)
	if !ok {
		eff.emit(Event{Type: EventResponseIgnored, Addr: addr, Elapsed: elapsed, Reason: ReasonUnknownSender})
		return
	}
	if !c.policy.Fresh(m, now) {
		eff.emit(Event{Type: EventResponseIgnored, Addr: addr, Suspicion: w.Suspicion, Elapsed: elapsed, Reason: ReasonStale})
		return
	}
	c.registry.Reset(addr)
	eff.emit(Event{Type: EventWorkerAlive, Addr: addr, Elapsed: elapsed})
}

// Tick runs one probe cycle: broadcast a probe, then age every worker that
// was registered when the cycle started.
func (c *Coordinator) Tick(now time.Time) Effects {
	var eff Effects
	workers := c.registry.Snapshot()

	eff.send(Broadcast, Probe(now))
	eff.emit(Event{Type: EventProbeBroadcast, Workers: len(workers)})

	for _, w := range workers {
		level, ok := c.registry.Bump(w.Address)
		if !ok {
			continue
		}
		if c.policy.Failed(level) {
			c.registry.Remove(w.Address)
			eff.emit(Event{Type: EventWorkerFailed, Addr: w.Address, Suspicion: level})
			continue
		}
		eff.emit(Event{Type: EventSuspicionRaised, Addr: w.Address, Suspicion: level})
	}
	return eff
}
