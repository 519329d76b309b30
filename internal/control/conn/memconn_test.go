package conn

import (
	"net"
	"time"
)

// memConn is an in-memory net.Conn stand-in for tests that need to drive
// a Conn by feeding bytes directly rather than through a real socket or
// net.Pipe: Read never blocks (it returns 0, nil when in is empty) and
// Write never blocks, optionally capping how much it accepts per call so
// a test can force OnWritable to drain in more than one step.
type memConn struct {
	in       []byte
	out      []byte
	maxWrite int
}

func (m *memConn) Read(b []byte) (int, error) {
	if len(m.in) == 0 {
		return 0, nil
	}
	n := copy(b, m.in)
	m.in = m.in[n:]
	return n, nil
}

func (m *memConn) Write(b []byte) (int, error) {
	n := len(b)
	if m.maxWrite > 0 && n > m.maxWrite {
		n = m.maxWrite
	}
	m.out = append(m.out, b[:n]...)
	return n, nil
}

func (m *memConn) Close() error                       { return nil }
func (m *memConn) LocalAddr() net.Addr                { return nil }
func (m *memConn) RemoteAddr() net.Addr               { return nil }
func (m *memConn) SetDeadline(t time.Time) error      { return nil }
func (m *memConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *memConn) SetWriteDeadline(t time.Time) error { return nil }
