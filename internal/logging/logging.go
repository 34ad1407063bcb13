// Package logging configures structured logging for assetstage using log/slog.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a config level name to a slog.Level.
// Supported levels: "debug", "info", "warn", "error" (default: "info").
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// Setup builds a logger with the given level and format ("text" or "json"),
// installs it as the slog default and returns it.
func Setup(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// Component returns a child of the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
