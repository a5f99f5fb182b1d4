package redline

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestResponderOption(t *testing.T) {
	responder := ResponderFunc(func(Chunk) ([]byte, error) { return nil, nil })
	opt := ResponderOption(responder)

	var opts options
	opt(&opts)

	if opts.responder == nil {
		t.Error("responder not set")
	}
}

func TestReadBufferSizeOption(t *testing.T) {
	opt := ReadBufferSizeOption(100)

	var opts options
	opt(&opts)

	if opts.readBufferSize != 100 {
		t.Errorf("readBufferSize = %d, want 100", opts.readBufferSize)
	}
}

func TestTimeoutOptions(t *testing.T) {
	var opts options
	IdleTimeoutOption(time.Minute)(&opts)
	WriteTimeoutOption(time.Second)(&opts)
	MaxLifetimeOption(time.Hour)(&opts)

	if opts.idleTimeout != time.Minute {
		t.Errorf("idleTimeout = %v, want %v", opts.idleTimeout, time.Minute)
	}
	if opts.writeTimeout != time.Second {
		t.Errorf("writeTimeout = %v, want %v", opts.writeTimeout, time.Second)
	}
	if opts.maxLifetime != time.Hour {
		t.Errorf("maxLifetime = %v, want %v", opts.maxLifetime, time.Hour)
	}
}

func TestMetricsOption(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	opt := MetricsOption(m)

	var opts options
	opt(&opts)

	if opts.metrics != m {
		t.Error("metrics not set correctly")
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &captureLogger{}
	opt := LoggerOption(logger)

	var opts options
	opt(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestBuildOptions_Defaults(t *testing.T) {
	opts, err := buildOptions(nil)
	if err != nil {
		t.Fatalf("buildOptions failed: %v", err)
	}

	if _, ok := opts.responder.(AckResponder); !ok {
		t.Errorf("responder = %T, want AckResponder", opts.responder)
	}
	if opts.readBufferSize != defaultReadBufferSize {
		t.Errorf("readBufferSize = %d, want %d", opts.readBufferSize, defaultReadBufferSize)
	}
	if opts.logger == nil {
		t.Error("logger should default to slog")
	}
	if opts.idleTimeout != 0 || opts.writeTimeout != 0 || opts.maxLifetime != 0 {
		t.Errorf("timeouts should default to disabled: %+v", opts)
	}
}

func TestCheckOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    options
		wantErr error
	}{
		{"valid", options{responder: AckResponder{}, readBufferSize: 16}, nil},
		{"zero buffer uses default", options{responder: AckResponder{}}, nil},
		{"nil responder", options{readBufferSize: 16}, ErrInvalidResponder},
		{"negative buffer", options{responder: AckResponder{}, readBufferSize: -1}, ErrInvalidBufferSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkOptions(&tt.opts)
			if err != tt.wantErr {
				t.Errorf("checkOptions() = %v, want %v", err, tt.wantErr)
			}
			if err == nil && tt.opts.readBufferSize <= 0 {
				t.Errorf("readBufferSize = %d after check", tt.opts.readBufferSize)
			}
		})
	}
}

func TestNewConnHandler_Logger(t *testing.T) {
	logger := &captureLogger{}
	h := NewConnHandler(ReadBufferSizeOption(8), LoggerOption(logger))

	if h.logger != logger {
		t.Error("handler logger not taken from options")
	}
	if len(h.opts) != 2 {
		t.Errorf("opts = %d, want 2", len(h.opts))
	}

	if NewConnHandler().logger == nil {
		t.Error("handler logger should default to slog")
	}
}

func TestConnHandler_RejectsInvalidOptions(t *testing.T) {
	logger := &captureLogger{}
	h := NewConnHandler(LoggerOption(logger), ReadBufferSizeOption(-1))

	server, client := createTestTCPPair(t)
	defer client.Close()

	h.Handle(t.Context(), server)

	entries := logger.find("rejecting connection")
	if len(entries) != 1 {
		t.Fatalf("rejecting entries = %d, want 1", len(entries))
	}
	if entries[0].value("error") != ErrInvalidBufferSize {
		t.Errorf("error = %v, want %v", entries[0].value("error"), ErrInvalidBufferSize)
	}
}
