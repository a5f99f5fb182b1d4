package redline

import (
	"time"
)

// options holds the configuration for a connection.
type options struct {
	responder Responder
	logger    Logger
	metrics   *Metrics

	readBufferSize int           // capacity of the buffer allocated for each read
	idleTimeout    time.Duration // max wait for data; 0 disables
	writeTimeout   time.Duration // deadline for writing one reply; 0 disables
	maxLifetime    time.Duration // hard cap on connection age; 0 disables
}

// Option is a function that configures connection options.
type Option func(*options)

// ResponderOption returns an Option that sets the chunk responder.
// Defaults to AckResponder.
func ResponderOption(r Responder) Option {
	return func(o *options) {
		o.responder = r
	}
}

// ReadBufferSizeOption returns an Option that sets the size of the buffer
// allocated for each read. A single read never returns more than this many
// bytes; larger messages are split across several chunks.
func ReadBufferSizeOption(size int) Option {
	return func(o *options) {
		o.readBufferSize = size
	}
}

// IdleTimeoutOption returns an Option that closes the connection when no
// data arrives for the given duration.
func IdleTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// WriteTimeoutOption returns an Option that bounds how long writing one reply may take.
func WriteTimeoutOption(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// MaxLifetimeOption returns an Option that closes the connection once it
// has been open for the given duration, regardless of activity.
func MaxLifetimeOption(d time.Duration) Option {
	return func(o *options) {
		o.maxLifetime = d
	}
}

// MetricsOption returns an Option that records connection metrics.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
