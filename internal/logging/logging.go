package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ParseLevel maps a level name to a slog level. "none" reports ok=false with
// no error, meaning logging is switched off.
func ParseLevel(name string) (level slog.Level, ok bool, err error) {
	switch name {
	case "none", "off":
		return 0, false, nil
	case "dev", "development", "debug":
		return slog.LevelDebug, true, nil
	case "info":
		return slog.LevelInfo, true, nil
	case "warn", "warning":
		return slog.LevelWarn, true, nil
	case "", "error", "production", "prod":
		return slog.LevelError, true, nil
	}
	return 0, false, fmt.Errorf("unknown log level %q", name)
}

// Init configures the default logger. An empty level falls back to LOG_LEVEL.
// With a log file, records go there as JSON and the returned file must be
// closed by the caller; otherwise they go to stderr as text.
func Init(level, logFile string) (*os.File, error) {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	lvl, enabled, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if !enabled {
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	}

	opts := &slog.HandlerOptions{Level: lvl}

	if logFile == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
		return nil, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, opts)))
	return f, nil
}
