package model

import "strings"

// edge is a forward dependency: from depends on to.
type edge struct {
	from, to *Service
	kind     DepKind
}

// MemoryEngine is a small in-memory reference implementation of Engine,
// standing in for the real dependency-solving service graph engine that
// this core treats as an external collaborator. It exists so this
// repository's own dispatcher tests have something to drive; it is not
// part of the wire-facing core itself.
type MemoryEngine struct {
	services map[string]*Service
	edges    []edge
	observer Observer

	env    map[string]string
	envSet map[string]bool

	// FailLoad lets tests force LoadService to fail for a given name,
	// simulating a malformed or unreadable service description.
	FailLoad map[string]error

	// OnSignal observes delivered signals, standing in for the real
	// process-signalling side effect SIGNAL would have on a live pid.
	OnSignal func(svc *Service, signum int32)
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		services: make(map[string]*Service),
		env:      make(map[string]string),
		envSet:   make(map[string]bool),
	}
}

func (e *MemoryEngine) RegisterObserver(o Observer) { e.observer = o }

func (e *MemoryEngine) FindService(name string) (*Service, bool) {
	svc, ok := e.services[name]
	return svc, ok
}

func (e *MemoryEngine) LoadService(name string) (*Service, error) {
	if svc, ok := e.services[name]; ok {
		return svc, nil
	}
	if err, bad := e.FailLoad[name]; bad {
		return nil, err
	}
	svc := &Service{Name: name, State: Stopped, TargetState: Stopped}
	e.services[name] = svc
	return svc, nil
}

func (e *MemoryEngine) RemoveService(svc *Service) error {
	if len(e.dependents(svc)) > 0 {
		return ErrHasDependents
	}
	if svc.State != Stopped {
		return ErrServiceActive
	}
	delete(e.services, svc.Name)
	var deps []*Service
	kept := e.edges[:0]
	for _, ed := range e.edges {
		if ed.from == svc || ed.to == svc {
			if ed.from == svc {
				deps = append(deps, ed.to)
			}
			continue
		}
		kept = append(kept, ed)
	}
	e.edges = kept
	for _, dep := range deps {
		e.syncDependents(dep)
	}
	if e.observer != nil {
		e.observer.OnServiceRemoved(svc)
	}
	return nil
}

func (e *MemoryEngine) ListServices() []*Service {
	out := make([]*Service, 0, len(e.services))
	for _, svc := range e.services {
		out = append(out, svc)
	}
	return out
}

func (e *MemoryEngine) dependents(svc *Service) []*Service {
	var out []*Service
	for _, ed := range e.edges {
		if ed.to == svc {
			out = append(out, ed.from)
		}
	}
	return out
}

func (e *MemoryEngine) dependencies(svc *Service) []*Service {
	var out []*Service
	for _, ed := range e.edges {
		if ed.from == svc {
			out = append(out, ed.to)
		}
	}
	return out
}

func (e *MemoryEngine) transitionTo(svc *Service, target RunState, markActive bool) {
	if svc.State == target {
		if markActive {
			svc.MarkedActive = true
		}
		return
	}
	svc.State = target
	svc.TargetState = target
	if markActive {
		svc.MarkedActive = true
	}
	var code TransitionCode
	switch target {
	case Started:
		code = EventStarted
	case Stopped:
		code = EventStopped
	default:
		return
	}
	if e.observer != nil {
		e.observer.OnTransition(TransitionEvent{Service: svc, Code: code})
	}
}

func (e *MemoryEngine) StartService(svc *Service, pin bool) error {
	if svc.PinnedStop {
		if pin {
			svc.PinnedStart = true
		}
		return ErrPinnedStop
	}

	for _, dep := range e.dependencies(svc) {
		if dep.State != Started && !dep.PinnedStop {
			e.transitionTo(dep, Started, false)
		}
	}

	if svc.State == Started {
		if pin {
			svc.PinnedStart = true
		}
		return ErrAlreadyInState
	}

	e.transitionTo(svc, Started, true)
	if pin {
		svc.PinnedStart = true
	}
	return nil
}

func (e *MemoryEngine) StopService(svc *Service, pin, restart bool) error {
	if restart && svc.State != Started {
		return ErrRestartNotReady
	}
	if svc.PinnedStart {
		if pin {
			svc.PinnedStop = true
		}
		return ErrPinnedStart
	}
	if svc.State == Stopped {
		if pin {
			svc.PinnedStop = true
		}
		return ErrAlreadyInState
	}

	for _, dep := range e.dependents(svc) {
		if dep.State != Stopped {
			e.transitionTo(dep, Stopped, false)
			dep.MarkedActive = false
		}
	}

	e.transitionTo(svc, Stopped, false)
	svc.MarkedActive = false
	if pin {
		svc.PinnedStop = true
	}

	if restart {
		svc.PendingRestart = true
		e.transitionTo(svc, Starting, false)
	}
	return nil
}

// CompleteRestart advances a service that StopService left Starting with
// PendingRestart set through to Started, emitting the STARTED transition
// on its own rather than bundled into the STOPSERVICE call that requested
// the restart. Nothing in this package calls it automatically: a restart
// only completes once whatever drives the service forward again (a real
// engine's own re-exec bookkeeping, or a test standing in for one) says
// the process actually came back up.
func (e *MemoryEngine) CompleteRestart(svc *Service) error {
	if !svc.PendingRestart || svc.State != Starting {
		return ErrRestartNotReady
	}
	svc.PendingRestart = false
	e.transitionTo(svc, Started, true)
	return nil
}

func (e *MemoryEngine) WakeService(svc *Service) error {
	var activeDeps int
	for _, dep := range e.dependents(svc) {
		if dep.State != Stopped {
			activeDeps++
		}
	}
	if activeDeps == 0 {
		return ErrCannotWake
	}
	if svc.State == Started {
		return ErrAlreadyInState
	}
	e.transitionTo(svc, Started, false)
	return nil
}

func (e *MemoryEngine) ReleaseService(svc *Service) error {
	svc.MarkedActive = false
	return nil
}

func (e *MemoryEngine) AddDep(from, to *Service, kind DepKind) error {
	for _, ed := range e.edges {
		if ed.from == from && ed.to == to && ed.kind == kind {
			return ErrDuplicateDep
		}
	}
	if e.reaches(to, from) {
		return ErrCycle
	}
	e.edges = append(e.edges, edge{from: from, to: to, kind: kind})
	e.syncDependents(to)
	return nil
}

func (e *MemoryEngine) RemDep(from, to *Service, kind DepKind) error {
	idx := -1
	for i, ed := range e.edges {
		if ed.from == from && ed.to == to && ed.kind == kind {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrDepNotFound
	}
	e.edges = append(e.edges[:idx], e.edges[idx+1:]...)
	e.syncDependents(to)

	if len(e.dependents(to)) == 0 && !to.MarkedActive && to.State == Started {
		e.transitionTo(to, Stopped, false)
	}
	return nil
}

// syncDependents refreshes svc.Dependents (the field the gentle-stop
// DEPENDENTS reply is built from) from the edge list.
func (e *MemoryEngine) syncDependents(svc *Service) {
	svc.Dependents = e.dependents(svc)
}

// reaches reports whether starting at from, to is reachable via forward
// dependency edges — used to reject a dependency that would create a
// cycle before it is added.
func (e *MemoryEngine) reaches(from, to *Service) bool {
	if from == to {
		return true
	}
	seen := map[*Service]bool{from: true}
	stack := []*Service{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range e.dependencies(cur) {
			if dep == to {
				return true
			}
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}

func (e *MemoryEngine) Signal(svc *Service, signum int32) error {
	if svc.Pid == 0 {
		return ErrNotProcess
	}
	if e.OnSignal != nil {
		e.OnSignal(svc, signum)
	}
	return nil
}

func (e *MemoryEngine) SetEnv(assignment string) EnvChange {
	name, value, hasValue := splitAssignment(assignment)
	wasSet := e.envSet[name]

	if hasValue {
		e.env[name] = value
		e.envSet[name] = true
	} else {
		delete(e.env, name)
		e.envSet[name] = false
	}

	change := EnvChange{Assignment: assignment, Overrode: wasSet}
	if e.observer != nil {
		e.observer.OnEnvChange(change)
	}
	return change
}

func splitAssignment(s string) (name, value string, hasValue bool) {
	idx := strings.IndexByte(s, '=')
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}
