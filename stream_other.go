//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package redline

import "net"

func newRawStream(net.Conn) (Stream, bool) {
	return nil, false
}
