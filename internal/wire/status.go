package wire

// Handle is the wire representation of a connection-scoped opaque handle.
// The protocol calls for "platform-native width"; this implementation
// fixes it at 32 bits for wire portability across client architectures,
// the same narrowing the reference test suite applies to its size_t
// dependent-count fields.
type Handle uint32

// NoHandle is never issued; zero is reserved per the wire contract.
const NoHandle Handle = 0

const (
	HandleSize = 4

	// StatusBlockSize is the legacy (v4) status block: state, target
	// state, flags, stop reason, two reserved bytes, and a 4-byte
	// exit-status-or-pid field.
	StatusBlockSize = 10

	// StatusBlock5Size is the extended (v5) status block: the same six
	// header bytes plus two 4-byte fields (exit status and exit code).
	StatusBlock5Size = 14
)

// State mirrors the service model's run state as transported on the wire.
type State uint8

const (
	StateStopped State = iota
	StateStarting
	StateStarted
	StateStopping
)

// Flag bits carried in a status block's Flags byte.
const (
	FlagHasConsole        uint8 = 1 << 0
	FlagWaitingForConsole uint8 = 1 << 1
	FlagStartSkipped      uint8 = 1 << 2
	FlagMarkedActive      uint8 = 1 << 3
	FlagPinnedStart       uint8 = 1 << 4
	FlagPinnedStop        uint8 = 1 << 5
)

// StopReason enumerates why a service most recently stopped.
type StopReason uint8

const (
	StopReasonNormal StopReason = iota
	StopReasonDependency
	StopReasonFailed
	StopReasonExecFailed
	StopReasonTerminated
)

// StatusBlock is the legacy fixed-size service status shape.
type StatusBlock struct {
	State        State
	TargetState  State
	Flags        uint8
	StopReason   StopReason
	ExitStatusOrPid uint32
}

func (s StatusBlock) Encode() []byte {
	buf := make([]byte, StatusBlockSize)
	buf[0] = uint8(s.State)
	buf[1] = uint8(s.TargetState)
	buf[2] = s.Flags
	buf[3] = uint8(s.StopReason)
	// buf[4], buf[5] reserved, left zero.
	NativeEndian.PutUint32(buf[6:10], s.ExitStatusOrPid)
	return buf
}

func DecodeStatusBlock(b []byte) StatusBlock {
	return StatusBlock{
		State:           State(b[0]),
		TargetState:     State(b[1]),
		Flags:           b[2],
		StopReason:      StopReason(b[3]),
		ExitStatusOrPid: NativeEndian.Uint32(b[6:10]),
	}
}

// StatusBlock5 is the extended (v5) service status shape, carrying both
// an exit status and a separate exit code field.
type StatusBlock5 struct {
	State       State
	TargetState State
	Flags       uint8
	StopReason  StopReason
	ExitStatus  uint32
	ExitCode    uint32
}

func (s StatusBlock5) Encode() []byte {
	buf := make([]byte, StatusBlock5Size)
	buf[0] = uint8(s.State)
	buf[1] = uint8(s.TargetState)
	buf[2] = s.Flags
	buf[3] = uint8(s.StopReason)
	NativeEndian.PutUint32(buf[6:10], s.ExitStatus)
	NativeEndian.PutUint32(buf[10:14], s.ExitCode)
	return buf
}

func DecodeStatusBlock5(b []byte) StatusBlock5 {
	return StatusBlock5{
		State:       State(b[0]),
		TargetState: State(b[1]),
		Flags:       b[2],
		StopReason:  StopReason(b[3]),
		ExitStatus:  NativeEndian.Uint32(b[6:10]),
		ExitCode:    NativeEndian.Uint32(b[10:14]),
	}
}
