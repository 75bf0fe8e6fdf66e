package cli

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// levelFromString maps debug|info|warn|error to a zerolog level, defaulting to info.
func levelFromString(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error", "err":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger builds the root logger. format is "json" or "console".
func NewLogger(w io.Writer, level, format string) zerolog.Logger {
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(levelFromString(level)).With().Timestamp().Logger()
}
