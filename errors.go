package redline

import (
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// Errors returned by server and connection operations.
var (
	// ErrWouldBlock is returned by Stream.TryRead when the socket reported
	// readiness but had no data. Conn.Run retries it and never surfaces it.
	ErrWouldBlock = errors.New("would block")
	// ErrIdleTimeout is returned by Conn.Run when no data arrived within the idle timeout.
	ErrIdleTimeout = errors.New("idle timeout")
	// ErrServerClosed is returned by Server.Serve after Close or Shutdown.
	ErrServerClosed = errors.New("server closed")
	// ErrInvalidResponder is returned when a nil responder is configured.
	ErrInvalidResponder = errors.New("invalid responder")
	// ErrInvalidBufferSize is returned when the read buffer size is negative.
	ErrInvalidBufferSize = errors.New("invalid read buffer size")
)

// BindError reports that the listening address could not be acquired.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// AcceptError reports a failure of the accept loop that ended Serve.
type AcceptError struct {
	Err error
}

func (e *AcceptError) Error() string {
	return "accept: " + e.Err.Error()
}

func (e *AcceptError) Unwrap() error { return e.Err }

// ConnError is a non-recoverable I/O failure local to one connection.
type ConnError struct {
	Op   string // "read", "write" or "respond"
	Addr net.Addr
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("%s %v: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

func newConnError(op string, addr net.Addr, err error) *ConnError {
	return &ConnError{Op: op, Addr: addr, Err: errors.WithStack(err)}
}
