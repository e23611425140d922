// Package logger defines the structured logging interface used across the
// module, with implementations backed by log/slog and zerolog.
package logger

import (
	"io"
	rawslog "log/slog"

	"github.com/collabkit/channels/pkg/logger/slog"
)

// Logger is the minimal leveled, key/value logger the registry and the
// transports write to. Args are alternating keys and values, as in log/slog.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// New returns a Logger writing through the given slog handler.
func New(h rawslog.Handler) Logger {
	return slog.New(h)
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return slog.New(rawslog.NewTextHandler(io.Discard, &rawslog.HandlerOptions{Level: rawslog.LevelError + 1}))
}
