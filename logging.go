package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger builds the process logger. Records go to stderr and, when a log
// file is configured, to a size rotated file as well. The returned closer
// flushes and closes that file.
func newLogger(c LogConfig) (*slog.Logger, io.Closer) {
	logLevel := slog.LevelInfo
	switch c.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if c.File.Filename != "" {
		file := &lumberjack.Logger{
			Filename:   c.File.Filename,
			MaxSize:    c.File.MaxSize,    // megabytes
			MaxBackups: c.File.MaxBackups, // number of backups
			MaxAge:     c.File.MaxAge,     // days
			Compress:   c.File.Compress,
		}
		out = io.MultiWriter(os.Stderr, file)
		closer = file
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(out, opts)), closer
	}
	return slog.New(slog.NewJSONHandler(out, opts)), closer
}
