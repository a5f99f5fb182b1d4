package redline

import (
	"io"
	"net"
)

// Stream is the readiness-driven read side of a connection.
//
// WaitReadable parks until the socket may have data, may be at EOF, or has a
// pending error. TryRead then performs a single non-blocking read and returns
// ErrWouldBlock if the readiness signal turned out to be spurious. Both
// honour the read deadline of the underlying net.Conn.
type Stream interface {
	WaitReadable() error
	TryRead(p []byte) (int, error)
}

// NewStream returns the readiness-driven stream for conn.
// Connections backed by a raw socket use the platform poller; anything else
// (TLS, in-memory pipes) falls back to blocking reads.
func NewStream(conn net.Conn) Stream {
	if s, ok := newRawStream(conn); ok {
		return s
	}
	return &connStream{conn: conn}
}

// connStream adapts a plain net.Conn. The blocking Read doubles as the
// readiness wait, so it never reports ErrWouldBlock.
type connStream struct {
	conn net.Conn
}

func (s *connStream) WaitReadable() error {
	return nil
}

func (s *connStream) TryRead(p []byte) (int, error) {
	n, err := s.conn.Read(p)
	if n == 0 && err == io.EOF {
		return 0, nil
	}
	if n > 0 && err == io.EOF {
		// Deliver the data now; the next read reports the close.
		return n, nil
	}
	return n, err
}
