//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package redline

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// rawStream drives a socket through the runtime netpoller.
type rawStream struct {
	rc syscall.RawConn
}

func newRawStream(conn net.Conn) (Stream, bool) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil, false
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, false
	}
	return &rawStream{rc: rc}, true
}

// WaitReadable parks on the poller until a zero-timeout poll reports the
// descriptor readable or in error. Poll leaves a pending socket error in
// place, so TryRead still observes a reset rather than a bare EOF.
func (s *rawStream) WaitReadable() error {
	return s.rc.Read(func(fd uintptr) bool {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 0)
		if err != nil {
			// EINTR: let TryRead decide, it maps an empty socket to ErrWouldBlock.
			return true
		}
		return n > 0
	})
}

// TryRead attempts exactly one read. The descriptor is non-blocking, so an
// empty socket yields EAGAIN, reported as ErrWouldBlock.
func (s *rawStream) TryRead(p []byte) (int, error) {
	var (
		n    int
		rerr error
	)
	err := s.rc.Read(func(fd uintptr) bool {
		for {
			n, rerr = unix.Read(int(fd), p)
			if rerr != unix.EINTR {
				return true
			}
		}
	})
	if err != nil {
		return 0, err
	}
	switch {
	case rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK:
		return 0, ErrWouldBlock
	case rerr != nil:
		return 0, rerr
	}
	return n, nil
}
