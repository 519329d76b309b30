package wire

import (
	"bytes"
	"testing"

	"github.com/danmuck/controld/internal/testutil/testlog"
)

func TestEncodeCPVersionIsFiveBytes(t *testing.T) {
	testlog.Start(t)
	got := EncodeCPVersion(ProtocolVersion)
	if len(got) != 5 {
		t.Fatalf("expected 5 bytes, got %d", len(got))
	}
	if got[0] != uint8(CPVERSION) {
		t.Fatalf("expected leading CPVERSION byte, got %d", got[0])
	}
	if got[1] != ProtocolVersion {
		t.Fatalf("expected version byte %d, got %d", ProtocolVersion, got[1])
	}
}

func TestEncodeServiceRecordSize(t *testing.T) {
	testlog.Start(t)
	got := EncodeServiceRecord(StateStarted, StateStarted, Handle(7))
	want := 3 + HandleSize
	if len(got) != want {
		t.Fatalf("expected %d bytes, got %d", want, len(got))
	}
	if Kind(got[0]) != SERVICERECORD {
		t.Fatalf("expected SERVICERECORD kind, got %d", got[0])
	}
}

func TestDecodeNameRequestRoundTrip(t *testing.T) {
	testlog.Start(t)
	payload := make([]byte, 0, 2+len("svc-a"))
	payload = NativeEndian.AppendUint16(payload, uint16(len("svc-a")))
	payload = append(payload, []byte("svc-a")...)

	req, n, err := DecodeNameRequest(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Name != "svc-a" {
		t.Fatalf("expected svc-a, got %q", req.Name)
	}
	if n != len(payload) {
		t.Fatalf("expected consumed %d, got %d", len(payload), n)
	}
}

func TestDecodeNameRequestShort(t *testing.T) {
	testlog.Start(t)
	_, _, err := DecodeNameRequest([]byte{0, 5, 'a'})
	if err != ErrShortPacket {
		t.Fatalf("expected ErrShortPacket, got %v", err)
	}
}

func TestCommandLenFixedAndVariable(t *testing.T) {
	testlog.Start(t)
	closeHandle := append([]byte{uint8(CLOSEHANDLE)}, make([]byte, HandleSize)...)
	n, err := CommandLen(closeHandle)
	if err != nil {
		t.Fatalf("CommandLen: %v", err)
	}
	if n != len(closeHandle) {
		t.Fatalf("expected %d, got %d", len(closeHandle), n)
	}

	find := []byte{uint8(FINDSERVICE)}
	find = NativeEndian.AppendUint16(find, 3)
	find = append(find, []byte("abc")...)
	n, err = CommandLen(find)
	if err != nil {
		t.Fatalf("CommandLen variable: %v", err)
	}
	if n != len(find) {
		t.Fatalf("expected %d, got %d", len(find), n)
	}

	_, err = CommandLen([]byte{uint8(FINDSERVICE), 0, 5, 'a'})
	if err != ErrShortPacket {
		t.Fatalf("expected ErrShortPacket for truncated variable command, got %v", err)
	}

	_, err = CommandLen([]byte{0xFF})
	if err != ErrUnknownKind {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestServiceEventDeclaredSizeMatchesLength(t *testing.T) {
	testlog.Start(t)
	sb := StatusBlock{State: StateStarted, TargetState: StateStarted}
	pkt := EncodeServiceEvent(Handle(3), EventStarted, sb)
	if int(pkt[1]) != len(pkt) {
		t.Fatalf("declared size %d does not match packet length %d", pkt[1], len(pkt))
	}

	sb5 := StatusBlock5{State: StateStarted, TargetState: StateStarted}
	pkt5 := EncodeServiceEvent5(Handle(3), EventStarted, sb5)
	if int(pkt5[1]) != len(pkt5) {
		t.Fatalf("declared size %d does not match packet length %d", pkt5[1], len(pkt5))
	}
}

func TestEnvEventNulTerminated(t *testing.T) {
	testlog.Start(t)
	pkt := EncodeEnvEvent(0, "FOO=bar")
	if pkt[len(pkt)-1] != 0 {
		t.Fatalf("expected trailing NUL, got %v", pkt[len(pkt)-1])
	}
	length := NativeEndian.Uint16(pkt[2:4])
	if int(length) != len("FOO=bar")+1 {
		t.Fatalf("expected length %d, got %d", len("FOO=bar")+1, length)
	}
	if !bytes.Equal(pkt[4:4+length-1], []byte("FOO=bar")) {
		t.Fatalf("payload mismatch: %q", pkt[4:4+length-1])
	}
}
