// Package logger configures the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the global slog logger instance. It discards output until Init
// is called so packages can log safely from tests.
var Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
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

// Init installs a JSON logger on stdout. The LOG_LEVEL environment variable
// overrides level when set.
func Init(level string) {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	if level == "" {
		level = "info"
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(level)})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
	Logger.Info("logger initialized", "level", level)
}

// For returns a logger tagged with component.
func For(component string) *slog.Logger {
	return Logger.With("component", component)
}
