// Package detector implements a centralized ping-ack failure detector.
//
// A single Coordinator keeps a registry of Workers and a suspicion counter
// for each of them. Every probe cycle the coordinator broadcasts a Probe and
// bumps every counter; a fresh ProbeResponse resets a worker's counter to
// zero. A worker whose counter reaches the failure threshold is removed from
// the registry and reported as failed.
//
// Both roles are plain state machines. They never touch the network or the
// clock themselves: callers feed them deliveries and timer ticks together
// with the current time, and they return Effects (messages to send and
// events to observe). pkg/node drives them over a transport.
//
// Typical usage:
//
//	c := detector.NewCoordinator(detector.DefaultPolicy())
//	eff := c.Tick(time.Now())
//	for _, s := range eff.Sends {
//		tr.Send(ctx, s.To, s.Msg)
//	}
package detector
