package haygo

import (
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with helpers for per-volume context.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger from an existing slog handler.
func NewLogger(handler slog.Handler) *Logger {
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger writing human-readable lines to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a Logger writing JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards all log output. It is the default for the store.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// WithVolume returns a Logger that annotates every record with the volume id.
func (l *Logger) WithVolume(id uint32) *Logger {
	return &Logger{Logger: l.Logger.With(slog.Uint64("volume", uint64(id)))}
}
