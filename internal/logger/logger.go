// Package logger provides structured logging setup for agentops.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rrh1441/agentops-replay/internal/config"
)

// defaultService labels records when logging.service is left unset in
// the config file.
const defaultService = "agentops-replay"

// New creates a *slog.Logger from the given Logging config. Output is
// JSON to stdout with a "service" attribute on every record; at debug
// level, records also carry their source location.
func New(cfg config.Logging) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg config.Logging, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})

	service := cfg.Service
	if service == "" {
		service = defaultService
	}
	return slog.New(handler).With("service", service)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(s string) slog.Level {
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
