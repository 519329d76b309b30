// Package handle implements the connection-scoped handle table described
// in §4.C: an arena-plus-generation map from opaque wire handles to
// service references, with tombstone entries surviving service removal
// until the client explicitly releases them with CLOSEHANDLE.
package handle

import (
	"errors"

	"github.com/danmuck/controld/internal/control/model"
	"github.com/danmuck/controld/internal/wire"
)

var (
	// ErrUnknown means the handle was never issued on this connection.
	ErrUnknown = errors.New("handle: unknown handle")
	// ErrStale means the handle's service has been removed from the
	// model; only CLOSEHANDLE may still be used with it.
	ErrStale = errors.New("handle: stale (tombstoned) handle")
)

// Entry is one handle table slot.
type Entry struct {
	Handle     wire.Handle
	Service    *model.Service
	Generation uint32
	Tombstoned bool
}

// Table is one connection's handle table. It is never accessed from more
// than one goroutine — the core's single-threaded scheduling model in §5
// means no internal locking is required here.
type Table struct {
	byHandle  map[wire.Handle]*Entry
	byService map[*model.Service]wire.Handle
	next      uint32
}

func New() *Table {
	return &Table{
		byHandle:  make(map[wire.Handle]*Entry),
		byService: make(map[*model.Service]wire.Handle),
		next:      1, // zero is reserved (wire.NoHandle)
	}
}

// Acquire returns the existing open handle for svc on this connection, or
// issues a fresh one. A tombstoned entry for svc is never returned; a new
// handle is issued instead, since the old value must not be reused while
// any tombstone referring to it still exists in the table (§4.C).
func (t *Table) Acquire(svc *model.Service) wire.Handle {
	if h, ok := t.byService[svc]; ok {
		if e := t.byHandle[h]; e != nil && !e.Tombstoned {
			return h
		}
	}
	h := wire.Handle(t.next)
	t.next++
	t.byHandle[h] = &Entry{Handle: h, Service: svc, Generation: t.next}
	t.byService[svc] = h
	return h
}

// Lookup reports the handle already issued for svc on this connection,
// without issuing a new one. Used by the event emitter to decide
// whether a connection has implicit delivery rights to svc's events; it
// never mutates the table.
func (t *Table) Lookup(svc *model.Service) (wire.Handle, bool) {
	h, ok := t.byService[svc]
	if !ok {
		return 0, false
	}
	if e := t.byHandle[h]; e == nil || e.Tombstoned {
		return 0, false
	}
	return h, true
}

// Resolve returns the live service for h, or a fault describing why it
// cannot be used: ErrUnknown (never issued) or ErrStale (tombstoned).
func (t *Table) Resolve(h wire.Handle) (*model.Service, error) {
	e, ok := t.byHandle[h]
	if !ok {
		return nil, ErrUnknown
	}
	if e.Tombstoned {
		return nil, ErrStale
	}
	return e.Service, nil
}

// Close removes the entry for h unconditionally (CLOSEHANDLE always
// ACKs, whether the entry is live or tombstoned). Reports whether an
// entry existed.
func (t *Table) Close(h wire.Handle) bool {
	e, ok := t.byHandle[h]
	if !ok {
		return false
	}
	delete(t.byHandle, h)
	if t.byService[e.Service] == h {
		delete(t.byService, e.Service)
	}
	return true
}

// Tombstone marks every entry referring to svc as a tombstone, keeping
// the slot (and its handle value) reserved until CLOSEHANDLE. Called by
// the event emitter when the model reports the service's removal.
func (t *Table) Tombstone(svc *model.Service) {
	if h, ok := t.byService[svc]; ok {
		if e := t.byHandle[h]; e != nil {
			e.Tombstoned = true
		}
	}
}

// Len reports the number of open entries (tombstoned or not), for tests
// asserting release-on-close behavior.
func (t *Table) Len() int {
	return len(t.byHandle)
}
