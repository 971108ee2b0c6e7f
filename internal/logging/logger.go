package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog for structured logging.
type Logger struct {
	*slog.Logger
}

// New creates a Logger that outputs text or JSON depending on config.
func New(jsonMode bool) *Logger {
	return NewWithLevel(jsonMode, slog.LevelInfo)
}

// NewWithLevel creates a Logger at the given minimum level. level is the
// input contract's log_level option (spec §4.7), parsed with ParseLevel.
func NewWithLevel(jsonMode bool, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if jsonMode {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return &Logger{slog.New(handler)}
}

// ParseLevel maps the conventional log-level names accepted by the
// input contract's log_level option to a slog.Level, defaulting to Info
// for an unrecognized or empty value.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
