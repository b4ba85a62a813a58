package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewWithLevel returns a slog.Logger writing JSON to stderr at level
// ("debug", "info", "warn", "error").
func NewWithLevel(subsystem, level string) *slog.Logger {
	return NewWriter(os.Stderr, subsystem, level)
}

// NewWriter is NewWithLevel writing to w instead of stderr.
func NewWriter(w io.Writer, subsystem, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     ParseLevel(level),
	})
	return slog.New(handler).With("subsystem", subsystem)
}

// Discard returns a logger that drops everything; used when a component is built without one.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
