// Package readiness abstracts the level-triggered readiness notification
// the supervisor's single-threaded event loop drives everything from
// (§5, §6): one call blocks for the next batch of ready file
// descriptors, reported as plain ints with read/write interest bits,
// so the loop never has to know whether the real implementation is
// epoll, kqueue, or an in-memory fake.
package readiness

// Event reports one descriptor's readiness.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	HangUp   bool
}

// Poller is the notifier the connection loop consumes. Add/Modify/Remove
// register interest; Wait blocks until at least one registered
// descriptor is ready or the deadline (in milliseconds, -1 for no
// timeout) elapses.
type Poller interface {
	Add(fd int, wantRead, wantWrite bool) error
	Modify(fd int, wantRead, wantWrite bool) error
	Remove(fd int) error
	Wait(timeoutMillis int) ([]Event, error)
	Close() error
}
