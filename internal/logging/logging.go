package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"approval-gate/backend/internal/config"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is a structured logger that writes to the console or a rotating file.
type Logger struct {
	*slog.Logger
	closer io.Closer
}

// NewLogger creates a new Logger from the log section of the configuration.
func NewLogger(cfg config.LogConfig) *Logger {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer
	)
	if strings.TrimSpace(cfg.File) != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		w, closer = rotating, rotating
	}
	return New(w, cfg.Level, cfg.Format).withCloser(closer)
}

// New creates a Logger writing to w. format is "json" or "text".
func New(w io.Writer, level, format string) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h)}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, "error", "text")
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) withCloser(c io.Closer) *Logger {
	l.closer = c
	return l
}
