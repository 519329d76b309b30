// Package model defines the collaborator interfaces the control core
// consumes but does not implement: the service graph engine, and the
// process-wide environment store. §1 of the specification treats both as
// external; this package also ships a small in-memory reference
// implementation of Engine (MemoryEngine), used by this repository's own
// tests and by cmd/controld, standing in for the real dependency solver /
// process launcher.
package model

import "errors"

// RunState mirrors the service state machine.
type RunState uint8

const (
	Stopped RunState = iota
	Starting
	Started
	Stopping
)

// DepKind enumerates dependency relationship types the core transports
// but does not interpret.
type DepKind uint8

const (
	DepRegular DepKind = iota
	DepSoft
	DepBefore
	DepAfter
)

// StopReason enumerates why a service most recently stopped.
type StopReason uint8

const (
	StopNormal StopReason = iota
	StopDependency
	StopFailed
	StopExecFailed
	StopTerminated
)

var (
	ErrNotFound        = errors.New("model: service not found")
	ErrAlreadyInState  = errors.New("model: already in requested state")
	ErrPinnedStart     = errors.New("model: pinned to start, cannot stop")
	ErrPinnedStop      = errors.New("model: pinned to stop, cannot start")
	ErrHasDependents   = errors.New("model: service has active dependents")
	ErrCycle           = errors.New("model: dependency would create a cycle")
	ErrDuplicateDep    = errors.New("model: dependency already present")
	ErrDepNotFound     = errors.New("model: dependency not present")
	ErrNotProcess      = errors.New("model: service has no underlying process")
	ErrCannotWake      = errors.New("model: no active dependent requires waking")
	ErrLoadFailed      = errors.New("model: service description failed to load")
	ErrDescriptionBad  = errors.New("model: service description is malformed")
	ErrInvalidDepKind  = errors.New("model: unknown dependency kind")
	ErrRestartNotReady = errors.New("model: restart not ready")
	ErrServiceActive   = errors.New("model: service is active")
)

// Service is the observable surface of a supervised unit, as consumed by
// the control core. The model engine owns the concrete type; the core
// only reads these fields and calls the Engine methods below.
type Service struct {
	Name           string
	State          RunState
	TargetState    RunState
	HasConsole     bool
	WaitingConsol  bool
	StartSkipped   bool
	MarkedActive   bool
	PinnedStart    bool
	PinnedStop     bool
	StopReason     StopReason
	ExitStatus     uint32
	ExitCode       uint32
	Pid            uint32
	Dependents     []*Service
	PendingRestart bool
}

// Flags packs the boolean attributes into the wire status block's Flags
// byte, bit positions matching internal/wire.Flag* constants.
func (s *Service) Flags() uint8 {
	var f uint8
	if s.HasConsole {
		f |= 1 << 0
	}
	if s.WaitingConsol {
		f |= 1 << 1
	}
	if s.StartSkipped {
		f |= 1 << 2
	}
	if s.MarkedActive {
		f |= 1 << 3
	}
	if s.PinnedStart {
		f |= 1 << 4
	}
	if s.PinnedStop {
		f |= 1 << 5
	}
	return f
}

// TransitionEvent describes one service state change, as delivered to
// Observer.OnTransition.
type TransitionEvent struct {
	Service *Service
	Code    TransitionCode
}

type TransitionCode uint8

const (
	EventStarted TransitionCode = iota
	EventStopped
	EventFailed
	EventStartCancelled
	EventStopCancelled
)

// EnvChange describes one environment store mutation, as delivered to
// Observer.OnEnvChange.
type EnvChange struct {
	Assignment string // literal "NAME=value" or bare "NAME"
	Overrode   bool   // flags byte low bit: false on first insertion
}

// Observer receives model-originated notifications. The control core
// registers exactly one Observer (the event emitter) per running
// supervisor process; the model engine is responsible for delivering
// transition and removal notifications synchronously, inline with the
// mutation that caused them, consistent with the core's single-threaded
// scheduling model.
type Observer interface {
	OnTransition(TransitionEvent)
	OnEnvChange(EnvChange)
	OnServiceRemoved(*Service)
}

// Engine is the model interface consumed by the command dispatcher (§6).
// The control core never holds a concrete type, only this interface, so
// a real dependency-solving engine can be substituted without touching
// dispatch code.
type Engine interface {
	FindService(name string) (*Service, bool)
	LoadService(name string) (*Service, error)
	RemoveService(svc *Service) error

	StartService(svc *Service, pin bool) error
	StopService(svc *Service, pin, restart bool) error
	WakeService(svc *Service) error
	ReleaseService(svc *Service) error

	AddDep(from, to *Service, kind DepKind) error
	RemDep(from, to *Service, kind DepKind) error

	Signal(svc *Service, signum int32) error

	ListServices() []*Service

	SetEnv(assignment string) EnvChange

	RegisterObserver(Observer)
}
