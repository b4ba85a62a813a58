package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/wailsapp/wails/v2/pkg/logger"
)

// WailsLogger routes the Wails runtime's log output through slog.
type WailsLogger struct {
	l *slog.Logger
}

var _ logger.Logger = (*WailsLogger)(nil)

// NewWailsLogger wraps l for use as options.App.Logger.
func NewWailsLogger(l *slog.Logger) *WailsLogger {
	return &WailsLogger{l: OrDiscard(l)}
}

func (w *WailsLogger) Print(message string)   { w.l.Info(message) }
func (w *WailsLogger) Trace(message string)   { w.l.Debug(message, "trace", true) }
func (w *WailsLogger) Debug(message string)   { w.l.Debug(message) }
func (w *WailsLogger) Info(message string)    { w.l.Info(message) }
func (w *WailsLogger) Warning(message string) { w.l.Warn(message) }
func (w *WailsLogger) Error(message string)   { w.l.Error(message) }

func (w *WailsLogger) Fatal(message string) {
	w.l.Log(context.Background(), slog.LevelError+4, message)
	os.Exit(1)
}

// WailsLevel converts a config level string to the Wails log level.
func WailsLevel(level string) logger.LogLevel {
	switch ParseLevel(level) {
	case slog.LevelDebug:
		return logger.DEBUG
	case slog.LevelWarn:
		return logger.WARNING
	case slog.LevelError:
		return logger.ERROR
	default:
		return logger.INFO
	}
}
