// Package log configures the process-wide slog logger.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default text logger at the given level. An unknown
// level falls back to info, so a typo in LOG_LEVEL never silences a service.
func Setup(logLevel string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(logLevel))); err != nil {
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithModule returns a logger tagged with the subsystem name, for filtering
// one engine's output out of a combined stream.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
