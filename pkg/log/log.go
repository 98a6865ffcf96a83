// Package log configures the process-wide slog logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps debug, info, warn and error to their slog levels. Anything else is info.
func ParseLevel(logLevel string) slog.Level {
	var level slog.Level

	if err := level.UnmarshalText([]byte(strings.TrimSpace(logLevel))); err != nil {
		return slog.LevelInfo
	}

	return level
}

// Setup installs a text logger on stderr as the default logger.
func Setup(logLevel string) {
	slog.SetDefault(New(os.Stderr, logLevel))
}

func New(w io.Writer, logLevel string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(logLevel),
	}))
}

// WithModule tags the default logger with the component name.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
