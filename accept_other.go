//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package redline

import (
	"net"

	"github.com/pkg/errors"
)

func isTransientAcceptError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
