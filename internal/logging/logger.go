// Package logging builds the process slog logger from configuration.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	openFiles   []*lumberjack.Logger
	openFilesMu sync.Mutex
)

// Initialize installs the configured logger as the slog default.
func Initialize(cfg Config) (*slog.Logger, error) {
	logger, err := New(cfg, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)
	logger.Info("Logging initialized", "level", cfg.Level, "format", cfg.Format,
		"console", cfg.Console.Enabled, "file", cfg.File.Enabled, "dir", cfg.Dir)
	return logger, nil
}

// New builds a logger writing console output to stdout.
func New(cfg Config, stdout io.Writer) (*slog.Logger, error) {
	var handlers []slog.Handler
	if cfg.Console.Enabled {
		handlers = append(handlers, newHandler(stdout, cfg.Console.Format, ParseLevel(cfg.Console.Level)))
	}
	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		main := rotated(cfg, "medstore.log")
		handlers = append(handlers, newHandler(main, cfg.File.Format, ParseLevel(cfg.File.Level)))

		errs := rotated(cfg, "errors.log")
		handlers = append(handlers, MinLevel(newHandler(errs, cfg.File.Format, slog.LevelWarn), slog.LevelWarn))
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	case 1:
		return slog.New(handlers[0]), nil
	}
	return slog.New(Fanout(handlers...)), nil
}

func rotated(cfg Config, name string) *lumberjack.Logger {
	l := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}
	openFilesMu.Lock()
	openFiles = append(openFiles, l)
	openFilesMu.Unlock()
	return l
}

// Shutdown closes every log file opened by New.
func Shutdown() error {
	openFilesMu.Lock()
	defer openFilesMu.Unlock()

	var errs []error
	for _, f := range openFiles {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	openFiles = nil
	return errors.Join(errs...)
}

// ParseLevel maps a configured level name to a slog level. Unknown names
// mean info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return NewTextHandler(w, opts)
}
