// Package dispatch implements the command dispatcher (§4.E): one
// handler per command kind, each following the same ordering rule —
// mutate the model, let any events that mutation produces drain to
// their subscribers (the model engine delivers those synchronously,
// inline, through the registered event.Emitter), then append the
// command's own terminal reply last. A connection never sees its own
// reply arrive ahead of an event the same command caused.
package dispatch

import (
	"github.com/danmuck/controld/internal/control/handle"
	"github.com/danmuck/controld/internal/control/model"
	"github.com/danmuck/controld/internal/control/subscribe"
	"github.com/danmuck/controld/internal/wire"
)

// Dispatcher handles one connection's command stream. K identifies the
// connection to the shared subscription registry; conn.Conn supplies
// its own pointer as K in production, tests use comparable stand-ins.
type Dispatcher[K comparable] struct {
	id      K
	engine  model.Engine
	handles *handle.Table
	subs    *subscribe.Registry[K]
}

func New[K comparable](id K, engine model.Engine, handles *handle.Table, subs *subscribe.Registry[K]) *Dispatcher[K] {
	return &Dispatcher[K]{id: id, engine: engine, handles: handles, subs: subs}
}

// Handle decodes and executes one complete command packet (as isolated
// by wire.CommandLen) and returns its terminal reply. fatal reports
// whether the connection's BADREQ latch must now be engaged: malformed
// length, an unrecognised kind, or reserved flag bits set on
// STARTSERVICE/STOPSERVICE are the only conditions that trigger it, per
// §7; a resolvable-but-invalid handle or state conflict is reported as
// an ordinary NAK-family reply instead.
func (d *Dispatcher[K]) Handle(pkt []byte) (reply []byte, fatal bool) {
	if len(pkt) == 0 {
		return wire.EncodeBadReq(), true
	}
	kind := wire.Kind(pkt[0])
	payload := pkt[1:]

	switch kind {
	case wire.QUERYVERSION:
		return wire.EncodeCPVersion(wire.ProtocolVersion), false

	case wire.FINDSERVICE:
		return d.findOrLoad(payload, false)
	case wire.LOADSERVICE:
		return d.findOrLoad(payload, true)

	case wire.UNLOADSERVICE:
		return d.unloadService(payload)

	case wire.STARTSERVICE:
		return d.startService(payload)
	case wire.STOPSERVICE:
		return d.stopService(payload)
	case wire.WAKESERVICE:
		return d.wakeService(payload)
	case wire.RELEASESERVICE:
		return d.releaseService(payload)

	case wire.LISTSERVICES:
		return d.listServices(), false

	case wire.QUERYSERVICENAME:
		return d.queryServiceName(payload)

	case wire.SERVICESTATUSCMD:
		return d.serviceStatus(payload)

	case wire.ADD_DEP:
		return d.addDep(payload)
	case wire.REM_DEP:
		return d.remDep(payload)
	case wire.ENABLESERVICE:
		return d.enableService(payload)

	case wire.SIGNAL:
		return d.signal(payload)

	case wire.CLOSEHANDLE:
		return d.closeHandle(payload)

	case wire.LISTENENV:
		d.subs.Listen(d.id, subscribe.EnvironmentEvents)
		return wire.EncodeAck(), false
	case wire.LISTENSV:
		d.subs.Listen(d.id, subscribe.ServiceEvents)
		return wire.EncodeAck(), false

	case wire.SETENV:
		return d.setEnv(payload)

	default:
		return wire.EncodeBadReq(), true
	}
}

func (d *Dispatcher[K]) findOrLoad(payload []byte, load bool) ([]byte, bool) {
	req, _, err := wire.DecodeNameRequest(payload)
	if err != nil {
		return wire.EncodeBadReq(), true
	}

	var svc *model.Service
	if load {
		var loadErr error
		svc, loadErr = d.engine.LoadService(req.Name)
		if loadErr != nil {
			if loadErr == model.ErrDescriptionBad {
				return wire.EncodeServiceDescErr(), false
			}
			return wire.EncodeServiceLoadErr(), false
		}
	} else {
		var ok bool
		svc, ok = d.engine.FindService(req.Name)
		if !ok {
			return wire.EncodeNoService(), false
		}
	}

	h := d.handles.Acquire(svc)
	return wire.EncodeServiceRecord(toWireState(svc.State), toWireState(svc.TargetState), h), false
}

func (d *Dispatcher[K]) resolve(payload []byte) (*model.Service, wire.Handle, []byte, bool) {
	req, err := wire.DecodeHandleRequest(payload)
	if err != nil {
		return nil, 0, wire.EncodeBadReq(), true
	}
	svc, rerr := d.handles.Resolve(req.Handle)
	if rerr != nil {
		return nil, 0, wire.EncodeNak(), false
	}
	return svc, req.Handle, nil, false
}

func (d *Dispatcher[K]) unloadService(payload []byte) ([]byte, bool) {
	svc, _, early, fatal := d.resolve(payload)
	if early != nil {
		return early, fatal
	}
	if err := d.engine.RemoveService(svc); err != nil {
		return wire.EncodeNak(), false
	}
	return wire.EncodeAck(), false
}

func (d *Dispatcher[K]) startService(payload []byte) ([]byte, bool) {
	req, err := wire.DecodeStartStopRequest(payload)
	if err != nil {
		return wire.EncodeBadReq(), true
	}
	if verr := req.Flags.Validate(); verr != nil {
		return wire.EncodeBadReq(), true
	}
	svc, rerr := d.handles.Resolve(req.Handle)
	if rerr != nil {
		return wire.EncodeNak(), false
	}

	pin := req.Flags&wire.FlagPin != 0
	switch err := d.engine.StartService(svc, pin); err {
	case nil:
		return wire.EncodeAck(), false
	case model.ErrPinnedStop:
		return wire.EncodePinnedStopped(), false
	case model.ErrAlreadyInState:
		return wire.EncodeAlreadySS(), false
	default:
		return wire.EncodeNak(), false
	}
}

func (d *Dispatcher[K]) stopService(payload []byte) ([]byte, bool) {
	req, err := wire.DecodeStartStopRequest(payload)
	if err != nil {
		return wire.EncodeBadReq(), true
	}
	if verr := req.Flags.Validate(); verr != nil {
		return wire.EncodeBadReq(), true
	}
	svc, rerr := d.handles.Resolve(req.Handle)
	if rerr != nil {
		return wire.EncodeNak(), false
	}

	gentle := req.Flags&wire.FlagGentle != 0
	if gentle {
		var active []wire.Handle
		for _, dep := range svc.Dependents {
			if dep.State != model.Stopped {
				active = append(active, d.handles.Acquire(dep))
			}
		}
		if len(active) > 0 {
			return wire.EncodeDependents(active), false
		}
	}

	pin := req.Flags&wire.FlagPin != 0
	restart := req.Flags&wire.FlagRestart != 0
	switch err := d.engine.StopService(svc, pin, restart); err {
	case nil:
		return wire.EncodeAck(), false
	case model.ErrPinnedStart:
		return wire.EncodePinnedStarted(), false
	case model.ErrAlreadyInState:
		return wire.EncodeAlreadySS(), false
	default:
		return wire.EncodeNak(), false
	}
}

func (d *Dispatcher[K]) wakeService(payload []byte) ([]byte, bool) {
	req, err := wire.DecodeStartStopRequest(payload)
	if err != nil {
		return wire.EncodeBadReq(), true
	}
	svc, rerr := d.handles.Resolve(req.Handle)
	if rerr != nil {
		return wire.EncodeNak(), false
	}
	switch err := d.engine.WakeService(svc); err {
	case nil:
		return wire.EncodeAck(), false
	case model.ErrAlreadyInState:
		return wire.EncodeAlreadySS(), false
	default:
		return wire.EncodeNak(), false
	}
}

func (d *Dispatcher[K]) releaseService(payload []byte) ([]byte, bool) {
	svc, _, early, fatal := d.resolve(payload)
	if early != nil {
		return early, fatal
	}
	_ = d.engine.ReleaseService(svc)
	return wire.EncodeAck(), false
}

func (d *Dispatcher[K]) listServices() []byte {
	var out []byte
	for _, svc := range d.engine.ListServices() {
		out = append(out, wire.EncodeSvcInfo(svc.Name, toStatusBlock(svc))...)
	}
	out = append(out, wire.EncodeAck()...)
	return out
}

func (d *Dispatcher[K]) queryServiceName(payload []byte) ([]byte, bool) {
	req, err := wire.DecodeQueryNameRequest(payload)
	if err != nil {
		return wire.EncodeBadReq(), true
	}
	svc, rerr := d.handles.Resolve(req.Handle)
	if rerr != nil {
		return wire.EncodeNak(), false
	}
	return wire.EncodeServiceName(svc.Name), false
}

func (d *Dispatcher[K]) serviceStatus(payload []byte) ([]byte, bool) {
	svc, _, early, fatal := d.resolve(payload)
	if early != nil {
		return early, fatal
	}
	return wire.EncodeServiceStatusReply(toStatusBlock(svc)), false
}

func (d *Dispatcher[K]) addDep(payload []byte) ([]byte, bool) {
	req, err := wire.DecodeDepRequest(payload)
	if err != nil {
		return wire.EncodeBadReq(), true
	}
	from, ferr := d.handles.Resolve(req.From)
	to, terr := d.handles.Resolve(req.To)
	if ferr != nil || terr != nil {
		return wire.EncodeNak(), false
	}
	if err := d.engine.AddDep(from, to, toModelDepKind(req.Kind)); err != nil {
		return wire.EncodeNak(), false
	}
	return wire.EncodeAck(), false
}

func (d *Dispatcher[K]) remDep(payload []byte) ([]byte, bool) {
	req, err := wire.DecodeDepRequest(payload)
	if err != nil {
		return wire.EncodeBadReq(), true
	}
	from, ferr := d.handles.Resolve(req.From)
	to, terr := d.handles.Resolve(req.To)
	if ferr != nil || terr != nil {
		return wire.EncodeNak(), false
	}
	if err := d.engine.RemDep(from, to, toModelDepKind(req.Kind)); err != nil {
		return wire.EncodeNak(), false
	}
	return wire.EncodeAck(), false
}

// enableService both records the dependency edge and, when the
// requesting service is already started, immediately starts the
// target and pins it to start. ADD_DEP records the same edge but
// starts and pins nothing, so ENABLESERVICE is the only dependency
// command that leaves a pinned-start side effect behind.
func (d *Dispatcher[K]) enableService(payload []byte) ([]byte, bool) {
	req, err := wire.DecodeDepRequest(payload)
	if err != nil {
		return wire.EncodeBadReq(), true
	}
	from, ferr := d.handles.Resolve(req.From)
	to, terr := d.handles.Resolve(req.To)
	if ferr != nil || terr != nil {
		return wire.EncodeNak(), false
	}
	if err := d.engine.AddDep(from, to, toModelDepKind(req.Kind)); err != nil {
		return wire.EncodeNak(), false
	}
	if from.State == model.Started {
		_ = d.engine.StartService(to, true)
	}
	return wire.EncodeAck(), false
}

func (d *Dispatcher[K]) signal(payload []byte) ([]byte, bool) {
	req, err := wire.DecodeSignalRequest(payload)
	if err != nil {
		return wire.EncodeBadReq(), true
	}
	svc, rerr := d.handles.Resolve(req.Handle)
	if rerr != nil {
		return wire.EncodeNak(), false
	}
	if err := d.engine.Signal(svc, req.Signum); err != nil {
		return wire.EncodeNak(), false
	}
	return wire.EncodeAck(), false
}

func (d *Dispatcher[K]) closeHandle(payload []byte) ([]byte, bool) {
	req, err := wire.DecodeHandleRequest(payload)
	if err != nil {
		return wire.EncodeBadReq(), true
	}
	d.handles.Close(req.Handle)
	return wire.EncodeAck(), false
}

func (d *Dispatcher[K]) setEnv(payload []byte) ([]byte, bool) {
	req, _, err := wire.DecodeSetEnvRequest(payload)
	if err != nil {
		return wire.EncodeBadReq(), true
	}
	d.engine.SetEnv(req.Assignment)
	return wire.EncodeAck(), false
}

func toWireState(s model.RunState) wire.State {
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

func toWireStopReason(r model.StopReason) wire.StopReason {
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

func toModelDepKind(k wire.DepKind) model.DepKind {
	switch k {
	case wire.DepSoft:
		return model.DepSoft
	case wire.DepBefore:
		return model.DepBefore
	case wire.DepAfter:
		return model.DepAfter
	default:
		return model.DepRegular
	}
}

func toStatusBlock(svc *model.Service) wire.StatusBlock {
	return wire.StatusBlock{
		State:           toWireState(svc.State),
		TargetState:     toWireState(svc.TargetState),
		Flags:           svc.Flags(),
		StopReason:      toWireStopReason(svc.StopReason),
		ExitStatusOrPid: svc.ExitStatus,
	}
}
