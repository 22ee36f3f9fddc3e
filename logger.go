package modhost

import (
	"io"
	"log/slog"
)

// Logger is the structured logger used by the registry and its helpers.
// Arguments after the message are alternating key/value pairs:
//
//	logger.Info("Module reloaded", "path", m.Path, "kind", m.Kind)
//
// *slog.Logger satisfies it directly, as do thin wrappers around zap,
// logrus and similar libraries.
type Logger interface {
	// Info records normal lifecycle events: module loads, reload passes.
	Info(msg string, args ...any)

	// Error records failures that the registry survives, and fatal ones
	// right before the FatalHandler runs.
	Error(msg string, args ...any)

	// Warn records skipped work, such as a module whose file could not be
	// stat'ed or whose unload hook vetoed a reload.
	Warn(msg string, args ...any)

	// Debug records symbol resolution and matching detail.
	Debug(msg string, args ...any)
}

// discardLogger is used when no logger was configured.
func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fieldLogger prepends fixed key/value pairs to every call.
type fieldLogger struct {
	inner  Logger
	fields []any
}

// WithFields returns a logger that adds fields to every record, such as
// "component", "httpd".
func WithFields(logger Logger, fields ...any) Logger {
	if len(fields) == 0 {
		return logger
	}
	if fl, ok := logger.(*fieldLogger); ok {
		return &fieldLogger{inner: fl.inner, fields: append(append([]any{}, fl.fields...), fields...)}
	}
	return &fieldLogger{inner: logger, fields: fields}
}

func (l *fieldLogger) with(args []any) []any {
	if len(args) == 0 {
		return l.fields
	}
	out := make([]any, 0, len(l.fields)+len(args))
	out = append(out, l.fields...)
	return append(out, args...)
}

func (l *fieldLogger) Info(msg string, args ...any)  { l.inner.Info(msg, l.with(args)...) }
func (l *fieldLogger) Error(msg string, args ...any) { l.inner.Error(msg, l.with(args)...) }
func (l *fieldLogger) Warn(msg string, args ...any)  { l.inner.Warn(msg, l.with(args)...) }
func (l *fieldLogger) Debug(msg string, args ...any) { l.inner.Debug(msg, l.with(args)...) }
