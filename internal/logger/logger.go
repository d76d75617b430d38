package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var defaultLogger *slog.Logger

func init() {
	defaultLogger = New(os.Stderr, "")
	slog.SetDefault(defaultLogger)
}

// New builds a logger writing to w. level is a config log level ("debug",
// "info", "warn", "error"); empty means info. ARKADE_QUIET raises the level
// to warn, ARKADE_DEBUG lowers it to debug and wins over both.
// ARKADE_LOG_FORMAT=json selects the JSON handler.
func New(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: shortLevels,
	}

	if os.Getenv("ARKADE_QUIET") != "" {
		opts.Level = slog.LevelWarn
	}
	if os.Getenv("ARKADE_DEBUG") != "" {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("ARKADE_LOG_FORMAT"), "json") {
		opts.ReplaceAttr = nil
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Configure replaces the default logger using the configured level.
func Configure(level string) *slog.Logger {
	defaultLogger = New(os.Stderr, level)
	slog.SetDefault(defaultLogger)
	return defaultLogger
}

// ParseLevel maps a config log level to a slog level; unknown means info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// shortLevels renders levels as DBG/INF/WRN/ERR in text output.
func shortLevels(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	level, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch level {
	case slog.LevelDebug:
		a.Value = slog.StringValue("DBG")
	case slog.LevelInfo:
		a.Value = slog.StringValue("INF")
	case slog.LevelWarn:
		a.Value = slog.StringValue("WRN")
	case slog.LevelError:
		a.Value = slog.StringValue("ERR")
	}
	return a
}

// Get returns the default logger
func Get() *slog.Logger {
	return defaultLogger
}
