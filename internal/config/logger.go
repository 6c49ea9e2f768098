package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the JSON logger used across the binary. Outside
// production the time is shortened to local wall time and source locations
// are included.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if os.Getenv("ENV") != "production" {
		opts.ReplaceAttr = replaceTimeAttr
		opts.AddSource = true
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// InitLogger installs the process logger on stderr and returns it. verbose
// forces debug level; otherwise LOG_LEVEL is honoured (default info).
func InitLogger(verbose bool) *slog.Logger {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))
	if verbose {
		level = slog.LevelDebug
	}
	logger := NewLogger(os.Stderr, level)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps debug|info|warn|error to a slog level. Unknown values are
// info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func replaceTimeAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && len(groups) == 0 {
		return slog.String("time", a.Value.Time().Local().Format("2006-01-02 15:04:05"))
	}
	return a
}
