package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrShortPacket means the buffer does not yet hold a complete
	// packet for the given kind; the caller should wait for more bytes.
	ErrShortPacket = errors.New("wire: short packet")
	// ErrUnknownKind means the leading byte does not name a known
	// command kind.
	ErrUnknownKind = errors.New("wire: unknown command kind")
	// ErrReservedBits means flag bits outside the documented set were
	// set on a command that rejects them.
	ErrReservedBits = errors.New("wire: reserved bits set")
)

// EventCode enumerates service transition events.
type EventCode uint8

const (
	EventStarted EventCode = iota
	EventStopped
	EventFailed
	EventStartCancelled
	EventStopCancelled
)

// StartStopFlags decodes the flag byte shared by STARTSERVICE/STOPSERVICE.
type StartStopFlags uint8

const (
	FlagPin     StartStopFlags = 1 << 0
	FlagGentle  StartStopFlags = 1 << 1 // STOPSERVICE only
	FlagRestart StartStopFlags = 1 << 2 // STOPSERVICE only
)

const startStopKnownBits = StartStopFlags(FlagPin | FlagGentle | FlagRestart)

func (f StartStopFlags) Validate() error {
	if f&^startStopKnownBits != 0 {
		return ErrReservedBits
	}
	return nil
}

// ---- fixed command payload lengths (excluding the kind byte) ----

// FixedCommandLen reports the exact payload length (after the kind byte)
// for commands whose shape never varies, or -1 for variable-length
// commands (FINDSERVICE, LOADSERVICE, SETENV) whose length depends on an
// inline length prefix.
func FixedCommandLen(k Kind) int {
	switch k {
	case QUERYVERSION, LISTSERVICES, LISTENENV, LISTENSV:
		return 0
	case UNLOADSERVICE, CLOSEHANDLE, SERVICESTATUSCMD:
		return HandleSize
	case STARTSERVICE, STOPSERVICE, WAKESERVICE, RELEASESERVICE:
		return 1 + HandleSize
	case QUERYSERVICENAME:
		return 1 + HandleSize
	case ADD_DEP, REM_DEP, ENABLESERVICE:
		return 1 + 2*HandleSize
	case SIGNAL:
		return 4 + HandleSize
	case FINDSERVICE, LOADSERVICE, SETENV:
		return -1
	default:
		return -1
	}
}

// ---- requests ----

type NameRequest struct {
	Name string
}

// DecodeNameRequest decodes the u16-length-prefixed name payload shared by
// FINDSERVICE and LOADSERVICE. It returns ErrShortPacket if payload does
// not yet contain the full name.
func DecodeNameRequest(payload []byte) (NameRequest, int, error) {
	if len(payload) < 2 {
		return NameRequest{}, 0, ErrShortPacket
	}
	n := int(NativeEndian.Uint16(payload[0:2]))
	total := 2 + n
	if len(payload) < total {
		return NameRequest{}, 0, ErrShortPacket
	}
	return NameRequest{Name: string(payload[2:total])}, total, nil
}

type HandleRequest struct {
	Handle Handle
}

func DecodeHandleRequest(payload []byte) (HandleRequest, error) {
	if len(payload) < HandleSize {
		return HandleRequest{}, ErrShortPacket
	}
	return HandleRequest{Handle: Handle(NativeEndian.Uint32(payload[0:HandleSize]))}, nil
}

type StartStopRequest struct {
	Flags  StartStopFlags
	Handle Handle
}

func DecodeStartStopRequest(payload []byte) (StartStopRequest, error) {
	if len(payload) < 1+HandleSize {
		return StartStopRequest{}, ErrShortPacket
	}
	return StartStopRequest{
		Flags:  StartStopFlags(payload[0]),
		Handle: Handle(NativeEndian.Uint32(payload[1 : 1+HandleSize])),
	}, nil
}

type QueryNameRequest struct {
	Handle Handle
}

func DecodeQueryNameRequest(payload []byte) (QueryNameRequest, error) {
	if len(payload) < 1+HandleSize {
		return QueryNameRequest{}, ErrShortPacket
	}
	return QueryNameRequest{Handle: Handle(NativeEndian.Uint32(payload[1 : 1+HandleSize]))}, nil
}

// DepKind enumerates dependency relationship types.
type DepKind uint8

const (
	DepRegular DepKind = iota
	DepSoft
	DepBefore
	DepAfter
)

type DepRequest struct {
	Kind DepKind
	From Handle
	To   Handle
}

func DecodeDepRequest(payload []byte) (DepRequest, error) {
	if len(payload) < 1+2*HandleSize {
		return DepRequest{}, ErrShortPacket
	}
	return DepRequest{
		Kind: DepKind(payload[0]),
		From: Handle(NativeEndian.Uint32(payload[1 : 1+HandleSize])),
		To:   Handle(NativeEndian.Uint32(payload[1+HandleSize : 1+2*HandleSize])),
	}, nil
}

type SignalRequest struct {
	Signum int32
	Handle Handle
}

func DecodeSignalRequest(payload []byte) (SignalRequest, error) {
	if len(payload) < 4+HandleSize {
		return SignalRequest{}, ErrShortPacket
	}
	return SignalRequest{
		Signum: int32(NativeEndian.Uint32(payload[0:4])),
		Handle: Handle(NativeEndian.Uint32(payload[4 : 4+HandleSize])),
	}, nil
}

type SetEnvRequest struct {
	Assignment string
}

func DecodeSetEnvRequest(payload []byte) (SetEnvRequest, int, error) {
	if len(payload) < 2 {
		return SetEnvRequest{}, 0, ErrShortPacket
	}
	n := int(NativeEndian.Uint16(payload[0:2]))
	total := 2 + n
	if len(payload) < total {
		return SetEnvRequest{}, 0, ErrShortPacket
	}
	return SetEnvRequest{Assignment: string(payload[2:total])}, total, nil
}

// ---- simple, fixed-shape replies ----

func single(k Kind) []byte { return []byte{uint8(k)} }

func EncodeAck() []byte            { return single(ACK) }
func EncodeNak() []byte            { return single(NAK) }
func EncodeBadReq() []byte         { return single(BADREQ) }
func EncodeAlreadySS() []byte      { return single(ALREADYSS) }
func EncodePinnedStopped() []byte  { return single(PINNEDSTOPPED) }
func EncodePinnedStarted() []byte  { return single(PINNEDSTARTED) }
func EncodeNoService() []byte      { return single(NOSERVICE) }
func EncodeServiceDescErr() []byte { return single(SERVICE_DESC_ERR) }
func EncodeServiceLoadErr() []byte { return single(SERVICE_LOAD_ERR) }

// EncodeCPVersion returns the 5-byte QUERYVERSION reply: kind, version,
// and three reserved bytes.
func EncodeCPVersion(version uint8) []byte {
	return []byte{uint8(CPVERSION), version, 0, 0, 0}
}

// EncodeServiceRecord returns the FINDSERVICE/LOADSERVICE success reply.
func EncodeServiceRecord(state, target State, h Handle) []byte {
	buf := make([]byte, 1+1+HandleSize+1)
	buf[0] = uint8(SERVICERECORD)
	buf[1] = uint8(state)
	NativeEndian.PutUint32(buf[2:2+HandleSize], uint32(h))
	buf[2+HandleSize] = uint8(target)
	return buf
}

// EncodeSvcInfo returns one LISTSERVICES record.
func EncodeSvcInfo(name string, sb StatusBlock) []byte {
	nameBytes := []byte(name)
	buf := make([]byte, 0, 1+2+StatusBlockSize+1+len(nameBytes))
	buf = append(buf, uint8(SVCINFO))
	buf = binary.NativeEndian.AppendUint16(buf, uint16(len(nameBytes)))
	buf = append(buf, sb.Encode()...)
	buf = append(buf, 0) // reserved
	buf = append(buf, nameBytes...)
	return buf
}

// EncodeServiceName returns the QUERYSERVICENAME success reply.
func EncodeServiceName(name string) []byte {
	nameBytes := []byte(name)
	buf := make([]byte, 0, 1+1+2+len(nameBytes))
	buf = append(buf, uint8(SERVICENAME), 0)
	buf = binary.NativeEndian.AppendUint16(buf, uint16(len(nameBytes)))
	buf = append(buf, nameBytes...)
	return buf
}

// EncodeServiceStatusReply returns the SERVICESTATUS success reply.
func EncodeServiceStatusReply(sb StatusBlock) []byte {
	buf := make([]byte, 0, 1+1+StatusBlockSize)
	buf = append(buf, uint8(SERVICESTATUSRPLY), 0)
	buf = append(buf, sb.Encode()...)
	return buf
}

// EncodeDependents returns the gentle-STOPSERVICE DEPENDENTS reply.
func EncodeDependents(handles []Handle) []byte {
	buf := make([]byte, 0, 1+4+len(handles)*HandleSize)
	buf = append(buf, uint8(DEPENDENTS))
	buf = binary.NativeEndian.AppendUint32(buf, uint32(len(handles)))
	for _, h := range handles {
		buf = binary.NativeEndian.AppendUint32(buf, uint32(h))
	}
	return buf
}

// ---- events ----

// EncodeServiceEvent returns the legacy (v4) SERVICEEVENT packet.
func EncodeServiceEvent(h Handle, code EventCode, sb StatusBlock) []byte {
	body := sb.Encode()
	declared := 7 + len(body)
	buf := make([]byte, 0, declared)
	buf = append(buf, uint8(SERVICEEVENT), uint8(declared))
	buf = binary.NativeEndian.AppendUint32(buf, uint32(h))
	buf = append(buf, uint8(code))
	buf = append(buf, body...)
	return buf
}

// EncodeServiceEvent5 returns the extended (v5) SERVICEEVENT5 packet.
func EncodeServiceEvent5(h Handle, code EventCode, sb StatusBlock5) []byte {
	body := sb.Encode()
	declared := 7 + len(body)
	buf := make([]byte, 0, declared)
	buf = append(buf, uint8(SERVICEEVENT5), uint8(declared))
	buf = binary.NativeEndian.AppendUint32(buf, uint32(h))
	buf = append(buf, uint8(code))
	buf = append(buf, body...)
	return buf
}

// EncodeEnvEvent returns the ENVEVENT packet: { kind, flags, length,
// payload-including-NUL }. assignment is the literal "NAME=value" or
// "NAME" text; the NUL terminator is appended on the wire only.
func EncodeEnvEvent(flags uint8, assignment string) []byte {
	payload := append([]byte(assignment), 0)
	buf := make([]byte, 0, 1+1+2+len(payload))
	buf = append(buf, uint8(ENVEVENT), flags)
	buf = binary.NativeEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	return buf
}

// PeekKind returns the kind byte at the head of buf, or an error if buf
// is empty.
func PeekKind(buf []byte) (Kind, error) {
	if len(buf) == 0 {
		return 0, fmt.Errorf("wire: empty buffer")
	}
	return Kind(buf[0]), nil
}

// CommandLen reports how many bytes of buf (starting at buf[0], the kind
// byte) make up one complete command packet. It returns ErrShortPacket
// if buf does not yet hold enough bytes to know, and ErrUnknownKind if
// buf[0] does not name a command.
func CommandLen(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, ErrShortPacket
	}
	k := Kind(buf[0])
	if !IsCommand(k) {
		return 0, ErrUnknownKind
	}

	if fixed := FixedCommandLen(k); fixed >= 0 {
		total := 1 + fixed
		if len(buf) < total {
			return 0, ErrShortPacket
		}
		return total, nil
	}

	// Variable-length: FINDSERVICE, LOADSERVICE, SETENV all lead with a
	// u16 length prefix immediately after the kind byte.
	if len(buf) < 3 {
		return 0, ErrShortPacket
	}
	n := int(NativeEndian.Uint16(buf[1:3]))
	total := 1 + 2 + n
	if len(buf) < total {
		return 0, ErrShortPacket
	}
	return total, nil
}
