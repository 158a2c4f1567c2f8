// Package logging configures the node's structured logger.
//
// Output is log/slog, written through a rotating file sink
// (gopkg.in/natefinch/lumberjack.v2), upgraded from ad hoc
// fmt.Fprintf(os.Stderr, ...) CLI logging (appropriate for a short-lived
// command) to leveled, component-scoped logging (appropriate for a
// long-lived node process).
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures where and how verbosely the node logs.
type Options struct {
	// FilePath, if non-empty, directs logs to a rotated file in addition
	// to stderr. Empty means stderr only (e.g. running under a
	// supervisor that captures stdout/stderr itself).
	FilePath string
	// MaxSizeMB is the rotation threshold; zero uses lumberjack's default.
	MaxSizeMB int
	// MaxBackups bounds how many rotated files are retained.
	MaxBackups int
	// MaxAgeDays bounds how long rotated files are retained.
	MaxAgeDays int
	// Debug enables slog.LevelDebug; otherwise slog.LevelInfo.
	Debug bool
}

// New builds the root logger for the process. Callers derive
// component loggers with Logger.With("component", name).
func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if opts.FilePath != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		})
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// Component returns a child logger scoped to a named subsystem, matching
// the "component" attribute convention used throughout the node's workers.
func Component(base *slog.Logger, name string) *slog.Logger {
	return base.With("component", name)
}
