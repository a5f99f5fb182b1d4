//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package redline

import (
	"bytes"
	"context"
	"net"
	"os"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sys/unix"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func acceptErr(err error) error {
	return &net.OpError{Op: "accept", Net: "tcp", Err: err}
}

func TestIsTransientAcceptError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connection aborted", acceptErr(os.NewSyscallError("accept", unix.ECONNABORTED)), true},
		{"connection reset", acceptErr(os.NewSyscallError("accept", unix.ECONNRESET)), true},
		{"interrupted", acceptErr(os.NewSyscallError("accept", unix.EINTR)), true},
		{"protocol error", acceptErr(os.NewSyscallError("accept", unix.EPROTO)), true},
		{"firewall", acceptErr(os.NewSyscallError("accept", unix.EPERM)), true},
		{"timeout", acceptErr(timeoutError{}), true},
		{"fd limit", acceptErr(os.NewSyscallError("accept", unix.EMFILE)), false},
		{"system fd limit", acceptErr(os.NewSyscallError("accept", unix.ENFILE)), false},
		{"no buffers", acceptErr(os.NewSyscallError("accept", unix.ENOBUFS)), false},
		{"no memory", acceptErr(os.NewSyscallError("accept", unix.ENOMEM)), false},
		{"closed", acceptErr(net.ErrClosed), false},
		{"unknown", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransientAcceptError(tt.err); got != tt.want {
				t.Errorf("isTransientAcceptError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestServer_Serve_RetriesTransientAcceptError(t *testing.T) {
	logger := &captureLogger{}
	metrics := NewMetrics(prometheus.NewRegistry())
	server, err := New("127.0.0.1:0", ServerLoggerOption(logger), ServerMetricsOption(metrics))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer server.Close()

	var calls atomic.Int32
	accept := server.accept
	server.accept = func() (*net.TCPConn, error) {
		if calls.Add(1) == 1 {
			return nil, acceptErr(os.NewSyscallError("accept", unix.ECONNABORTED))
		}
		return accept()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := serve(ctx, server, NewConnHandler(LoggerOption(logger)))

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	reply, err := ping(conn)
	if err != nil {
		t.Fatalf("ping after transient accept error failed: %v", err)
	}
	if !bytes.Equal(reply, Ack) {
		t.Errorf("reply = %q, want %q", reply, Ack)
	}

	if got := testutil.ToFloat64(metrics.acceptErrors.WithLabelValues("transient")); got != 1 {
		t.Errorf("transient accept errors = %v, want 1", got)
	}
	if len(logger.find("accept error, retrying")) != 1 {
		t.Error("transient accept error was not logged")
	}

	select {
	case err := <-done:
		t.Fatalf("Serve returned %v after a transient error", err)
	default:
	}
}

func TestServer_Serve_FatalAcceptError(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	server := newTestServer(t, ServerMetricsOption(metrics))
	defer server.Close()

	server.accept = func() (*net.TCPConn, error) {
		return nil, acceptErr(os.NewSyscallError("accept", unix.EMFILE))
	}

	err := waitServe(t, serve(context.Background(), server, newMockHandler()))

	var acceptError *AcceptError
	if !errors.As(err, &acceptError) {
		t.Fatalf("Serve returned %v, want *AcceptError", err)
	}
	if !errors.Is(err, unix.EMFILE) {
		t.Errorf("AcceptError does not wrap EMFILE: %v", err)
	}
	if got := testutil.ToFloat64(metrics.acceptErrors.WithLabelValues("fatal")); got != 1 {
		t.Errorf("fatal accept errors = %v, want 1", got)
	}
}
