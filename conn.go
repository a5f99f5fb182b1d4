// Package redline provides the connection core of a line-oriented,
// Redis-like TCP server. It accepts connections, reads each one with
// readiness-driven non-blocking I/O, and answers every chunk of input
// with a reply produced by a Responder (by default the fixed "+OK\r\n").
//
// Framing is not implemented: a request split across two reads yields two
// chunks, and each chunk is answered on its own.
package redline

import (
	"context"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

// defaultReadBufferSize is the capacity of the buffer used for each read.
const defaultReadBufferSize = 1024

// aLongTimeAgo is a deadline in the past, used to interrupt blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)

// Conn owns one accepted connection and runs its read/respond loop.
type Conn struct {
	rawConn net.Conn
	stream  Stream
	id      ulid.ULID
	logger  Logger

	opts options

	// deadlineMu orders idle deadline updates against cancellation, so
	// re-arming the idle timer never undoes an interrupt. It also guards cancel.
	deadlineMu sync.Mutex
	canceled   bool
	cancel     context.CancelFunc

	closed atomic.Bool
}

// NewConn creates a new connection wrapper around the given connection.
// It applies the provided options and validates them before returning.
func NewConn(conn net.Conn, opt ...Option) (*Conn, error) {
	opts, err := buildOptions(opt)
	if err != nil {
		return nil, err
	}

	return newConnWithStream(conn, NewStream(conn), opts), nil
}

func buildOptions(opt []Option) (options, error) {
	opts := options{responder: AckResponder{}}
	for _, o := range opt {
		o(&opts)
	}

	return opts, checkOptions(&opts)
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options) error {
	if opts.responder == nil {
		return ErrInvalidResponder
	}

	if opts.readBufferSize < 0 {
		return ErrInvalidBufferSize
	}

	if opts.readBufferSize == 0 {
		opts.readBufferSize = defaultReadBufferSize
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

func newConnWithStream(c net.Conn, s Stream, opts options) *Conn {
	id := ulid.Make()
	return &Conn{
		rawConn: c,
		stream:  s,
		id:      id,
		logger:  withFields(opts.logger, "remote_addr", c.RemoteAddr().String(), "conn_id", id.String()),
		opts:    opts,
	}
}

// Run serves the connection until the peer closes it, an I/O error occurs,
// or ctx is done. The connection is closed when Run returns.
//
// Run returns nil on an orderly close, *ConnError on an I/O failure,
// ErrIdleTimeout when the idle timeout expires, and ctx.Err() on cancellation.
func (c *Conn) Run(ctx context.Context) error {
	var cancel context.CancelFunc
	if c.opts.maxLifetime > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.opts.maxLifetime)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	c.deadlineMu.Lock()
	c.cancel = cancel
	c.deadlineMu.Unlock()

	stop := context.AfterFunc(ctx, c.interrupt)
	defer stop()

	c.opts.metrics.connOpened()
	c.logger.Debug("connection established",
		"read_buffer_size", c.opts.readBufferSize,
		"idle_timeout", c.opts.idleTimeout,
		"max_lifetime", c.opts.maxLifetime)

	err := c.readLoop(ctx)
	c.closeConn()

	reason := closeReason(err)
	c.opts.metrics.connClosed(reason)
	c.logger.Debug("connection closed", "reason", reason)

	return err
}

// Close closes the connection and stops Run. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.deadlineMu.Lock()
	cancel := c.cancel
	c.deadlineMu.Unlock()
	if cancel != nil {
		cancel()
	}

	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// ID returns the identifier used to correlate this connection's log entries.
func (c *Conn) ID() string {
	return c.id.String()
}

// readLoop waits for readiness, reads once, and answers each chunk.
// Reads and writes are strictly sequential.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		if err := c.armIdleDeadline(); err != nil {
			return c.readError(ctx, err)
		}

		if err := c.stream.WaitReadable(); err != nil {
			return c.readError(ctx, err)
		}

		buf := make([]byte, c.opts.readBufferSize)
		n, err := c.stream.TryRead(buf)
		switch {
		case errors.Is(err, ErrWouldBlock):
			c.opts.metrics.spuriousWakeup()
			c.logger.Debug("spurious readiness, waiting again")
			continue
		case err != nil:
			return c.readError(ctx, err)
		case n == 0:
			return nil
		}

		if err := c.process(ctx, NewChunk(buf[:n])); err != nil {
			return err
		}
	}
}

// process logs the chunk, asks the responder for a reply and writes it.
func (c *Conn) process(ctx context.Context, chunk Chunk) error {
	c.opts.metrics.chunkRead(chunk.Len())
	c.logger.Info("bytes read", "bytes", chunk.Len(), "text", chunk.Text())

	reply, err := c.opts.responder.Respond(chunk)
	if err != nil {
		return newConnError("respond", c.Addr(), err)
	}

	if len(reply) == 0 {
		return nil
	}

	if err := c.write(reply); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newConnError("write", c.Addr(), err)
	}

	c.opts.metrics.chunkAcked()
	return nil
}

// write sends data to the connection, bounded by the write timeout if set.
func (c *Conn) write(data []byte) error {
	if c.opts.writeTimeout > 0 {
		if err := c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout)); err != nil {
			return err
		}
	}

	_, err := c.rawConn.Write(data)
	return err
}

// armIdleDeadline pushes the read deadline forward before each wait.
func (c *Conn) armIdleDeadline() error {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()

	if c.canceled {
		return context.Canceled
	}
	if c.opts.idleTimeout <= 0 {
		return nil
	}
	return c.rawConn.SetReadDeadline(time.Now().Add(c.opts.idleTimeout))
}

// interrupt unblocks any pending read or write once the context is done.
func (c *Conn) interrupt() {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()

	c.canceled = true
	_ = c.rawConn.SetReadDeadline(aLongTimeAgo)
	_ = c.rawConn.SetWriteDeadline(aLongTimeAgo)
}

// readError maps a failed wait or read to the error Run reports.
func (c *Conn) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.opts.idleTimeout > 0 && errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrIdleTimeout
	}
	return newConnError("read", c.Addr(), err)
}

// closeConn marks the connection as closed and closes the underlying connection.
func (c *Conn) closeConn() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.rawConn.Close()
}

func closeReason(err error) string {
	switch {
	case err == nil:
		return closeReasonPeer
	case errors.Is(err, ErrIdleTimeout):
		return closeReasonIdle
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return closeReasonCanceled
	default:
		return closeReasonError
	}
}
