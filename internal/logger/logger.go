// Package logger wraps zerolog behind the small, call-site-friendly API
// the rest of this module uses: Info/Warn/Error/Debug taking a message
// plus alternating key-value pairs, mirroring slog's calling convention
// so switching backends didn't require touching every call site.
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

var defaultLogger zerolog.Logger

func init() {
	defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// SetLogger replaces the global logger instance.
func SetLogger(l zerolog.Logger) {
	defaultLogger = l
}

// SetTextLogger configures the logger to use zerolog's human-readable
// console writer instead of JSON.
func SetTextLogger() {
	defaultLogger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// SetLevel sets the minimum level the logger emits.
func SetLevel(level zerolog.Level) {
	defaultLogger = defaultLogger.Level(level)
}

// Logger returns the default logger.
func Logger() zerolog.Logger {
	return defaultLogger
}

type traceIDKey struct{}

// ContextWithTraceID attaches a trace id retrievable via WithContext.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// WithContext returns a logger with context values (currently a trace id,
// if one was attached via ContextWithTraceID) attached as fields.
func WithContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return defaultLogger
	}
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok && traceID != "" {
		return defaultLogger.With().Str("trace_id", traceID).Logger()
	}
	return defaultLogger
}

func fields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, args[i+1])
	}
	return e
}

// Info logs at Info level. args are alternating string keys and values.
func Info(msg string, args ...any) {
	fields(defaultLogger.Info(), args).Msg(msg)
}

// InfoContext logs at Info level using WithContext(ctx).
func InfoContext(ctx context.Context, msg string, args ...any) {
	l := WithContext(ctx)
	fields(l.Info(), args).Msg(msg)
}

// Error logs at Error level.
func Error(msg string, args ...any) {
	fields(defaultLogger.Error(), args).Msg(msg)
}

// ErrorContext logs at Error level using WithContext(ctx).
func ErrorContext(ctx context.Context, msg string, args ...any) {
	l := WithContext(ctx)
	fields(l.Error(), args).Msg(msg)
}

// Warn logs at Warn level.
func Warn(msg string, args ...any) {
	fields(defaultLogger.Warn(), args).Msg(msg)
}

// WarnContext logs at Warn level using WithContext(ctx).
func WarnContext(ctx context.Context, msg string, args ...any) {
	l := WithContext(ctx)
	fields(l.Warn(), args).Msg(msg)
}

// Debug logs at Debug level.
func Debug(msg string, args ...any) {
	fields(defaultLogger.Debug(), args).Msg(msg)
}

// DebugContext logs at Debug level using WithContext(ctx).
func DebugContext(ctx context.Context, msg string, args ...any) {
	l := WithContext(ctx)
	fields(l.Debug(), args).Msg(msg)
}
