package redline

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Handler is the interface for handling accepted TCP connections.
// Handle runs on its own goroutine and owns conn until it returns.
type Handler interface {
	Handle(ctx context.Context, conn *net.TCPConn)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn *net.TCPConn)

// Handle calls f(ctx, conn).
func (f HandlerFunc) Handle(ctx context.Context, conn *net.TCPConn) {
	f(ctx, conn)
}

// ConnHandler runs a Conn for every accepted connection. It is the task
// boundary for connection failures: errors are logged with the peer address
// and never reach the acceptor or other connections.
type ConnHandler struct {
	opts   []Option
	logger Logger
}

// NewConnHandler returns a Handler that serves each connection with the given options.
func NewConnHandler(opts ...Option) *ConnHandler {
	h := &ConnHandler{opts: opts, logger: defaultLogger()}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger != nil {
		h.logger = o.logger
	}
	return h
}

// Handle serves conn until it closes and logs how it ended.
func (h *ConnHandler) Handle(ctx context.Context, conn *net.TCPConn) {
	addr := conn.RemoteAddr().String()

	c, err := NewConn(conn, h.opts...)
	if err != nil {
		h.logger.Error("rejecting connection", "remote_addr", addr, "error", err)
		_ = conn.Close()
		return
	}

	err = c.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrIdleTimeout):
		h.logger.Info("connection idle, closing", "remote_addr", addr, "conn_id", c.ID())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Debug("connection stopped", "remote_addr", addr, "conn_id", c.ID(), "reason", err)
	default:
		h.logger.Error("connection error", "remote_addr", addr, "conn_id", c.ID(), "error", err)
	}
}
