package redline

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// Backoff bounds for transient accept failures.
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server binds a TCP address and hands every accepted connection to a
// Handler running on its own goroutine.
type Server struct {
	listener        *net.TCPListener
	accept          func() (*net.TCPConn, error)
	logger          Logger
	metrics         *Metrics
	limiter         *rate.Limiter
	shutdownTimeout time.Duration

	// connCtx is passed to handlers. It outlives the Serve context so that
	// the shutdown timeout gives in-flight connections time to finish.
	connCtx     context.Context
	cancelConns context.CancelFunc
	conns       sync.WaitGroup

	// mu guards the flags below and orders conns.Add against Shutdown.
	mu          sync.Mutex
	shutdown    bool
	closed      bool
	active      map[*net.TCPConn]struct{}
	shutdownNow chan struct{} // signals immediate shutdown, bypassing timeout

	// acceptCtx is canceled once the accept loop must stop waiting on the
	// rate limiter or an error backoff.
	acceptCtx    context.Context
	cancelAccept context.CancelFunc
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerMetricsOption records acceptor metrics.
func ServerMetricsOption(m *Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// ServerAcceptRateOption limits how many connections are accepted per second.
// Connections beyond the limit wait in the kernel backlog. A non-positive
// limit disables rate limiting; burst is raised to at least 1.
func ServerAcceptRateOption(limit float64, burst int) ServerOption {
	return func(s *Server) {
		if limit <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// ServerShutdownTimeoutOption sets the graceful shutdown timeout.
// When the context passed to Serve is canceled, the server keeps serving
// for up to this duration before it stops accepting and interrupts the
// remaining connections. Default is 0 (immediate shutdown).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// New creates a new TCP server bound to addr.
// It returns a *BindError if the address cannot be resolved or bound.
func New(addr string, opts ...ServerOption) (*Server, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}

	connCtx, cancelConns := context.WithCancel(context.Background())
	acceptCtx, cancelAccept := context.WithCancel(context.Background())
	s := &Server{
		listener:     listener,
		logger:       defaultLogger(),
		connCtx:      connCtx,
		cancelConns:  cancelConns,
		shutdownNow:  make(chan struct{}),
		active:       make(map[*net.TCPConn]struct{}),
		acceptCtx:    acceptCtx,
		cancelAccept: cancelAccept,
	}

	s.accept = listener.AcceptTCP

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and dispatches each to handler on a new
// goroutine, without waiting for it. It blocks until ctx is canceled, the
// server is closed, or accepting fails for a reason other than a transient
// condition.
//
// Serve returns ctx.Err() after a context-driven shutdown, ErrServerClosed
// after Close or Shutdown, and *AcceptError on a fatal accept failure.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info("server started", "addr", s.listener.Addr())

	done := make(chan struct{})
	defer close(done)
	go s.watchContext(ctx, done)

	var backoff time.Duration
	for {
		if err := s.waitAcceptSlot(); err != nil {
			return s.stopped(ctx)
		}

		conn, err := s.accept()
		if err != nil {
			if s.isStopping() || errors.Is(err, net.ErrClosed) {
				return s.stopped(ctx)
			}

			if isTransientAcceptError(err) {
				backoff = nextBackoff(backoff)
				s.metrics.acceptFailed("transient")
				s.logger.Warn("accept error, retrying", "error", err, "delay", backoff)
				if !s.sleep(backoff) {
					return s.stopped(ctx)
				}
				continue
			}

			s.metrics.acceptFailed("fatal")
			s.logger.Error("accept error", "error", err)
			return &AcceptError{Err: err}
		}
		backoff = 0

		s.metrics.connAccepted()
		s.logger.Info("accepted connection", "remote_addr", conn.RemoteAddr())
		_ = conn.SetNoDelay(true)

		if !s.track(conn) {
			_ = conn.Close()
			return s.stopped(ctx)
		}
		go func() {
			defer s.untrack(conn)
			handler.Handle(s.connCtx, conn)
		}()
	}
}

// track registers conn with the shutdown drain. It reports false once the
// server is stopping, in which case conn must not be dispatched.
func (s *Server) track(conn *net.TCPConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown || s.closed {
		return false
	}
	s.active[conn] = struct{}{}
	s.conns.Add(1)
	return true
}

func (s *Server) untrack(conn *net.TCPConn) {
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
	s.conns.Done()
}

// closeActive closes every connection still owned by a handler.
func (s *Server) closeActive() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.active {
		_ = conn.Close()
	}
}

// watchContext turns cancellation of the Serve context into a shutdown,
// honouring the shutdown timeout.
func (s *Server) watchContext(ctx context.Context, done <-chan struct{}) {
	select {
	case <-ctx.Done():
	case <-done:
		return
	}

	if s.shutdownTimeout > 0 {
		s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
		select {
		case <-time.After(s.shutdownTimeout):
		case <-s.shutdownNow:
			s.logger.Debug("shutdown timeout bypassed via Close()")
		case <-done:
			return
		}
	}

	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	s.cancelAccept()
	// Unblock Accept without closing the listener.
	_ = s.listener.SetDeadline(time.Now())
	s.cancelConns()
}

// Close stops the server immediately: the listener is closed and every
// connection started by Serve is interrupted.
func (s *Server) Close() error {
	s.markClosed()

	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	err := s.listener.Close()
	s.cancelConns()
	return err
}

// Shutdown stops accepting and waits for in-flight connections to finish.
// If ctx expires first, the handlers' context is canceled, the remaining
// sockets are closed and ctx.Err() is returned without waiting for the
// handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.markClosed()
	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	drained := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return err
	case <-ctx.Done():
		s.cancelConns()
		s.closeActive()
		return ctx.Err()
	}
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancelAccept()
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown || s.closed
}

// stopped logs the end of the accept loop and picks the error Serve returns.
func (s *Server) stopped(ctx context.Context) error {
	s.logger.Info("server stopped", "addr", s.listener.Addr())

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if !closed && ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrServerClosed
}

// waitAcceptSlot blocks until the rate limiter admits another connection.
func (s *Server) waitAcceptSlot() error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(s.acceptCtx)
}

// sleep waits for d, returning false if the server stops first.
func (s *Server) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-s.acceptCtx.Done():
		return false
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}
