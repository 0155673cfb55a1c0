package logger

import (
	"log/slog"
	"os"
)

// New returns the root structured logger. All components receive children of
// this logger through their constructors rather than reading a global.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
