package redline

import "log/slog"

// Logger is the interface for structured logging.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger returns the default slog logger from the standard library.
func defaultLogger() Logger {
	return slog.Default()
}

// fieldLogger prefixes every entry with a fixed set of key-value pairs.
type fieldLogger struct {
	next   Logger
	fields []any
}

// withFields returns a Logger that adds fields to every entry written to l.
func withFields(l Logger, fields ...any) Logger {
	if sl, ok := l.(*slog.Logger); ok {
		return sl.With(fields...)
	}
	return &fieldLogger{next: l, fields: fields}
}

func (l *fieldLogger) Debug(msg string, args ...any) { l.next.Debug(msg, l.merge(args)...) }
func (l *fieldLogger) Info(msg string, args ...any)  { l.next.Info(msg, l.merge(args)...) }
func (l *fieldLogger) Warn(msg string, args ...any)  { l.next.Warn(msg, l.merge(args)...) }
func (l *fieldLogger) Error(msg string, args ...any) { l.next.Error(msg, l.merge(args)...) }

func (l *fieldLogger) merge(args []any) []any {
	out := make([]any, 0, len(l.fields)+len(args))
	out = append(out, l.fields...)
	return append(out, args...)
}
