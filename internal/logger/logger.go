package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/till-ledger/internal/config"
)

// NewLogger creates the process-wide JSON logger, tagged with the terminal it runs on
func NewLogger(cfg *config.Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

// NewLoggerWithWriter is NewLogger writing to w. Command line tools log to
// stderr so stdout carries only their output.
func NewLoggerWithWriter(w io.Writer, cfg *config.Config) *slog.Logger {
	return newLogger(w, cfg)
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := ParseLevel(cfg.Logging.Level)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	logger := slog.New(slog.NewJSONHandler(w, opts))
	if cfg.Application.TerminalID != "" {
		logger = logger.With("terminal_id", cfg.Application.TerminalID)
	}

	logger.Info("logger initialized", "level", level)

	return logger
}

// ParseLevel maps a configured level name to a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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
