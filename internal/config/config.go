// Package config defines the redline configuration and loads it from
// defaults, a YAML file, the environment and command-line overrides.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/Zereker/redline/internal/logging"
)

// Default configuration values.
const (
	DefaultAddr            = "127.0.0.1:6379"
	DefaultReadBufferSize  = 1024
	DefaultWriteTimeout    = 30 * time.Second
	DefaultAcceptBurst     = 1
	DefaultShutdownTimeout = 10 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsAddr = "127.0.0.1:9121"
)

// Config is the root configuration.
type Config struct {
	Server  ServerSection  `koanf:"server"`
	Log     LogSection     `koanf:"log"`
	Metrics MetricsSection `koanf:"metrics"`
}

// ServerSection configures the listener and its connections.
type ServerSection struct {
	Addr           string        `koanf:"addr"`
	ReadBufferSize int           `koanf:"read_buffer_size"`
	IdleTimeout    time.Duration `koanf:"idle_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	MaxLifetime    time.Duration `koanf:"max_lifetime"`
	// AcceptRate is the number of connections accepted per second; 0 means unlimited.
	AcceptRate      float64       `koanf:"accept_rate"`
	AcceptBurst     int           `koanf:"accept_burst"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerSection{
			Addr:            DefaultAddr,
			ReadBufferSize:  DefaultReadBufferSize,
			WriteTimeout:    DefaultWriteTimeout,
			AcceptBurst:     DefaultAcceptBurst,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsSection{
			Addr: DefaultMetricsAddr,
		},
	}
}

// Verify validates the configuration.
func Verify(cfg *Config) error {
	s := cfg.Server
	if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		return fmt.Errorf("server.addr %q: %w", s.Addr, err)
	}
	if s.ReadBufferSize <= 0 {
		return fmt.Errorf("server.read_buffer_size must be positive, got %d", s.ReadBufferSize)
	}
	for name, d := range map[string]time.Duration{
		"server.idle_timeout":     s.IdleTimeout,
		"server.write_timeout":    s.WriteTimeout,
		"server.max_lifetime":     s.MaxLifetime,
		"server.shutdown_timeout": s.ShutdownTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if s.AcceptRate < 0 {
		return fmt.Errorf("server.accept_rate must not be negative, got %v", s.AcceptRate)
	}
	if s.AcceptRate > 0 && s.AcceptBurst < 1 {
		return fmt.Errorf("server.accept_burst must be at least 1 when accept_rate is set")
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "json", "text", "console":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", cfg.Log.Format)
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics.addr %q: %w", cfg.Metrics.Addr, err)
		}
	}

	return nil
}
