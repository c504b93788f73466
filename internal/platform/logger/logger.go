// Package logger provides structured logging for the colony server.
// Every tick, build and subscriber change should be traceable through this.
package logger

import (
	"io"
	"log/slog"
	"strings"
)

// Logger provides structured logging with context.
type Logger struct {
	base *slog.Logger
}

// New creates a logger with the given level ("debug", "info", "warn", "error")
// and format ("text" or "json").
func New(level, format string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{base: slog.New(h)}
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *Logger {
	return &Logger{base: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a level name to a slog.Level. Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger that always includes the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{base: l.base.With(args...)}
}

// Debug logs verbose diagnostics.
func (l *Logger) Debug(msg string, args ...any) {
	l.base.Debug(msg, args...)
}

// Info logs informational messages.
func (l *Logger) Info(msg string, args ...any) {
	l.base.Info(msg, args...)
}

// Warn logs warning messages.
func (l *Logger) Warn(msg string, args ...any) {
	l.base.Warn(msg, args...)
}

// Event logs a journal-worthy game event attributed to an actor (a command
// source such as API or SCHEDULER).
func (l *Logger) Event(eventType, actor, details string) {
	l.base.Info("game event", "event_type", eventType, "actor", actor, "details", details)
}

// Error logs error messages.
func (l *Logger) Error(msg string, args ...any) {
	l.base.Error(msg, args...)
}
