// Package conn implements the per-connection read/write buffering and
// backpressure described in §4.B and §5: a read buffer that can hold
// more than one complete command per readiness notification, a write
// buffer bounded by high/low water marks plus a hard cap, and the
// fatal-error latch that a malformed command engages — after which
// reads stop but any already-queued replies still drain.
package conn

import (
	"errors"
	"net"

	"github.com/danmuck/controld/internal/control/dispatch"
	"github.com/danmuck/controld/internal/control/event"
	"github.com/danmuck/controld/internal/control/handle"
	"github.com/danmuck/controld/internal/control/model"
	"github.com/danmuck/controld/internal/control/subscribe"
	"github.com/danmuck/controld/internal/metrics"
	"github.com/danmuck/controld/internal/wire"
	"github.com/rs/zerolog/log"
)

// ErrWriteOverflow is returned (and the connection closed) when queued
// output exceeds the hard cap before the peer drains it.
var ErrWriteOverflow = errors.New("conn: write buffer exceeded hard cap")

// Limits mirrors config.SupervisorConfig's water marks.
type Limits struct {
	WriteHighWaterBytes int
	WriteLowWaterBytes  int
	WriteHardCapBytes   int
}

// Conn is one client connection's buffering and dispatch state. It
// implements event.Sink so the shared emitter can deliver broadcast and
// handle-scoped events straight into its write buffer.
type Conn struct {
	rw     net.Conn
	fd     int
	limits Limits

	readBuf   []byte
	writeBuf  []byte
	fatal     bool
	closed    bool
	suspended bool

	handles *handle.Table
	subs    *subscribe.Registry[*Conn]
	dsp     *dispatch.Dispatcher[*Conn]
	emitter *event.Emitter
}

// New wraps rw (whose file descriptor is fd, for the caller's readiness
// registration) in a Conn dispatching commands against engine, sharing
// subs and emitter with every other live connection. The Conn registers
// itself with emitter immediately, so it starts receiving events for
// any handle it later acquires.
func New(rw net.Conn, fd int, limits Limits, engine model.Engine, subs *subscribe.Registry[*Conn], emitter *event.Emitter) *Conn {
	c := &Conn{rw: rw, fd: fd, limits: limits, handles: handle.New(), subs: subs, emitter: emitter}
	c.dsp = dispatch.New(c, engine, c.handles, subs)
	emitter.Register(c)
	return c
}

func (c *Conn) Fd() int                { return c.fd }
func (c *Conn) Handles() *handle.Table { return c.handles }

func (c *Conn) SubscriptionFlags() subscribe.Flags {
	return c.subs.Flags(c)
}

// WantRead reports whether the loop should keep this connection
// registered for read readiness: never once latched fatal, and never
// while reads are suspended for backpressure. Suspension is hysteresis,
// not a single threshold: Enqueue raises it at the high water mark and
// only OnWritable clears it, once draining brings the buffer to or below
// the low water mark, so a connection sitting one byte under the high water
// mark doesn't immediately resume.
func (c *Conn) WantRead() bool {
	return !c.fatal && !c.closed && !c.suspended
}

// WantWrite reports whether the loop should keep this connection
// registered for write readiness.
func (c *Conn) WantWrite() bool {
	return !c.closed && len(c.writeBuf) > 0
}

// Enqueue appends packet to the write buffer. Crossing the hard cap is
// fatal: the peer is not draining fast enough for the supervisor to
// keep buffering on its behalf.
func (c *Conn) Enqueue(packet []byte) {
	if c.closed {
		return
	}
	c.writeBuf = append(c.writeBuf, packet...)
	if len(c.writeBuf) > c.limits.WriteHardCapBytes {
		log.Warn().Int("fd", c.fd).Int("queued", len(c.writeBuf)).Msg("write buffer hard cap exceeded, closing connection")
		c.Close("write-overflow")
		return
	}
	if len(c.writeBuf) >= c.limits.WriteHighWaterBytes {
		c.suspended = true
	}
}

// OnReadable is called by the event loop when the poller reports read
// readiness. It drains as many complete commands as the kernel buffer
// currently holds, dispatching each and enqueueing its reply, stopping
// early if a command engages the fatal latch.
func (c *Conn) OnReadable() error {
	if !c.WantRead() {
		return nil
	}
	chunk := make([]byte, 64*1024)
	n, err := c.rw.Read(chunk)
	if n > 0 {
		c.readBuf = append(c.readBuf, chunk[:n]...)
	}
	if err != nil {
		c.Close("read-error")
		return err
	}

	for {
		plen, lerr := wire.CommandLen(c.readBuf)
		if lerr == wire.ErrShortPacket {
			break
		}
		if lerr == wire.ErrUnknownKind {
			c.Enqueue(wire.EncodeBadReq())
			c.fatal = true
			metrics.RecordReply(uint8(wire.BADREQ))
			break
		}

		pkt := c.readBuf[:plen]
		c.readBuf = c.readBuf[plen:]

		metrics.RecordCommand(pkt[0])
		reply, fatal := c.dsp.Handle(pkt)
		c.Enqueue(reply)
		if len(reply) > 0 {
			metrics.RecordReply(reply[0])
		}
		if fatal {
			c.fatal = true
			break
		}
		if !c.WantRead() {
			break
		}
	}
	return nil
}

// OnWritable flushes as much of the write buffer as the socket accepts.
func (c *Conn) OnWritable() error {
	if len(c.writeBuf) == 0 {
		return nil
	}
	n, err := c.rw.Write(c.writeBuf)
	c.writeBuf = c.writeBuf[n:]
	if err != nil {
		c.Close("write-error")
		return err
	}
	if c.suspended && len(c.writeBuf) <= c.limits.WriteLowWaterBytes {
		c.suspended = false
	}
	return nil
}

// Close tears the connection down: the underlying socket, its emitter
// registration, and its subscription state. The handle table itself is
// left as it is and goes away with the Conn. reason is recorded for the
// connections_closed_total metric.
func (c *Conn) Close(reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.subs.Remove(c)
	c.emitter.Unregister(c)
	_ = c.rw.Close()
	metrics.ConnectionClosed(reason)
}
