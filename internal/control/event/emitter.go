// Package event implements the dual-format broadcast described in §4.F:
// every service transition is announced first as SERVICEEVENT5
// (extended status) and then, unless the supervisor is configured for
// v5-only delivery, as the legacy SERVICEEVENT. Delivery goes to two
// audiences per event: connections that broadcast-subscribed with
// LISTENSV/LISTENENV, and connections that hold an open handle to the
// affected service, which always get its events regardless of
// subscription state. A connection in both audiences receives each
// event once.
package event

import (
	"github.com/danmuck/controld/internal/control/handle"
	"github.com/danmuck/controld/internal/control/model"
	"github.com/danmuck/controld/internal/control/subscribe"
	"github.com/danmuck/controld/internal/metrics"
	"github.com/danmuck/controld/internal/wire"
)

// Sink is the connection-facing side the emitter writes to. conn.Conn
// implements this; it is expressed as an interface here so this package
// has no dependency on connection buffering or readiness.
type Sink interface {
	Handles() *handle.Table
	SubscriptionFlags() subscribe.Flags
	Enqueue(packet []byte)
}

// Emitter implements model.Observer, fanning transitions and environment
// changes out to every connection entitled to see them. It holds no
// locks: the supervisor's single-threaded scheduling model means the
// model engine calls Observer methods inline with the mutation that
// caused them, and this emitter runs to completion before the dispatcher
// resumes.
type Emitter struct {
	dualEmit bool
	sinks    []Sink
}

// NewEmitter constructs an emitter. dualEmit mirrors
// config.SupervisorConfig.DualEmit: true sends both SERVICEEVENT5 and
// the legacy SERVICEEVENT for every transition; false sends only the
// extended form.
func NewEmitter(dualEmit bool) *Emitter {
	return &Emitter{dualEmit: dualEmit}
}

// Register adds sink to the set of connections considered for delivery.
// Unregister removes it again.
func (e *Emitter) Register(sink Sink) {
	e.sinks = append(e.sinks, sink)
}

// Reset replaces the full sink list.
func (e *Emitter) Reset(sinks []Sink) {
	e.sinks = sinks
}

// Unregister drops sink from future delivery, called when its
// connection closes.
func (e *Emitter) Unregister(sink Sink) {
	kept := e.sinks[:0]
	for _, s := range e.sinks {
		if s != sink {
			kept = append(kept, s)
		}
	}
	e.sinks = kept
}

func (e *Emitter) OnTransition(ev model.TransitionEvent) {
	code := toEventCode(ev.Code)
	sb := toStatusBlock(ev.Service)
	sb5 := toStatusBlock5(ev.Service)

	metrics.RecordEvent(uint8(wire.SERVICEEVENT5))
	if e.dualEmit {
		metrics.RecordEvent(uint8(wire.SERVICEEVENT))
	}

	for _, sink := range e.sinks {
		h, hasHandle := sink.Handles().Lookup(ev.Service)
		broadcast := sink.SubscriptionFlags().ServiceEvents
		if !hasHandle && !broadcast {
			continue
		}
		if !hasHandle {
			// Broadcast-only delivery still needs a handle value to put
			// on the wire; acquiring one here is how a LISTENSV-only
			// connection first learns a service's handle.
			h = sink.Handles().Acquire(ev.Service)
		}
		sink.Enqueue(wire.EncodeServiceEvent5(h, code, sb5))
		if e.dualEmit {
			sink.Enqueue(wire.EncodeServiceEvent(h, code, sb))
		}
	}
}

func (e *Emitter) OnEnvChange(ch model.EnvChange) {
	metrics.RecordEvent(uint8(wire.ENVEVENT))

	var flags uint8
	if ch.Overrode {
		flags |= 1
	}
	pkt := wire.EncodeEnvEvent(flags, ch.Assignment)

	for _, sink := range e.sinks {
		if sink.SubscriptionFlags().EnvironmentEvents {
			sink.Enqueue(pkt)
		}
	}
}

func (e *Emitter) OnServiceRemoved(svc *model.Service) {
	for _, sink := range e.sinks {
		sink.Handles().Tombstone(svc)
	}
}

func toEventCode(c model.TransitionCode) wire.EventCode {
	switch c {
	case model.EventStarted:
		return wire.EventStarted
	case model.EventStopped:
		return wire.EventStopped
	case model.EventFailed:
		return wire.EventFailed
	case model.EventStartCancelled:
		return wire.EventStartCancelled
	case model.EventStopCancelled:
		return wire.EventStopCancelled
	default:
		return wire.EventStopped
	}
}

func toState(s model.RunState) wire.State {
	switch s {
	case model.Stopped:
		return wire.StateStopped
	case model.Starting:
		return wire.StateStarting
	case model.Started:
		return wire.StateStarted
	case model.Stopping:
		return wire.StateStopping
	default:
		return wire.StateStopped
	}
}

func toStopReason(r model.StopReason) wire.StopReason {
	switch r {
	case model.StopNormal:
		return wire.StopReasonNormal
	case model.StopDependency:
		return wire.StopReasonDependency
	case model.StopFailed:
		return wire.StopReasonFailed
	case model.StopExecFailed:
		return wire.StopReasonExecFailed
	case model.StopTerminated:
		return wire.StopReasonTerminated
	default:
		return wire.StopReasonNormal
	}
}

func toStatusBlock(svc *model.Service) wire.StatusBlock {
	return wire.StatusBlock{
		State:           toState(svc.State),
		TargetState:     toState(svc.TargetState),
		Flags:           svc.Flags(),
		StopReason:      toStopReason(svc.StopReason),
		ExitStatusOrPid: svc.ExitStatus,
	}
}

func toStatusBlock5(svc *model.Service) wire.StatusBlock5 {
	return wire.StatusBlock5{
		State:       toState(svc.State),
		TargetState: toState(svc.TargetState),
		Flags:       svc.Flags(),
		StopReason:  toStopReason(svc.StopReason),
		ExitStatus:  svc.ExitStatus,
		ExitCode:    svc.ExitCode,
	}
}
