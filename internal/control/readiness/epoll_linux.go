//go:build linux

package readiness

import "golang.org/x/sys/unix"

// Epoll is the production Poller, backed by the kernel epoll facility.
type Epoll struct {
	fd int
}

func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{fd: fd}, nil
}

func eventMask(wantRead, wantWrite bool) uint32 {
	var mask uint32
	if wantRead {
		mask |= unix.EPOLLIN
	}
	if wantWrite {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (e *Epoll) Add(fd int, wantRead, wantWrite bool) error {
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: eventMask(wantRead, wantWrite),
		Fd:     int32(fd),
	})
}

func (e *Epoll) Modify(fd int, wantRead, wantWrite bool) error {
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: eventMask(wantRead, wantWrite),
		Fd:     int32(fd),
	})
}

func (e *Epoll) Remove(fd int) error {
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (e *Epoll) Wait(timeoutMillis int) ([]Event, error) {
	raw := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(e.fd, raw, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Event, 0, n)
	for _, ev := range raw[:n] {
		out = append(out, Event{
			Fd:       int(ev.Fd),
			Readable: ev.Events&unix.EPOLLIN != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			HangUp:   ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	return out, nil
}

func (e *Epoll) Close() error {
	return unix.Close(e.fd)
}
