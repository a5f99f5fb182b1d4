//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package redline

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// isTransientAcceptError reports whether an accept failure concerns only
// the connection being accepted, so the loop can keep serving. Resource
// exhaustion (EMFILE, ENFILE, ENOBUFS, ENOMEM) is not transient.
func isTransientAcceptError(err error) bool {
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.ECONNABORTED, unix.ECONNRESET, unix.EINTR, unix.EPROTO, unix.EPERM, unix.EAGAIN:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
