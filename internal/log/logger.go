// Package log sets up the daemon's diagnostic logger and the capture logger
// that dump prints decoded messages through.
//
// Diagnostics go to stderr and, when enabled, a rotated file. Stdout carries
// captured messages only, so a dump can be piped without filtering.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/cjdnsniff/internal/config"
)

var stderr io.Writer = os.Stderr

// Logging is a configured diagnostic logger and the log file it owns.
type Logging struct {
	Logger *slog.Logger
	file   *lumberjack.Logger // nil unless file output is enabled
}

// Setup builds the diagnostic logger described by cfg without installing it.
func Setup(cfg config.LogConfig) (*Logging, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	l := &Logging{}
	w := stderr
	if fc := cfg.Outputs.File; fc.Enabled {
		if fc.Path == "" {
			return nil, fmt.Errorf("log: file output enabled without a path")
		}
		l.file = &lumberjack.Logger{
			Filename:   fc.Path,
			MaxSize:    fc.Rotation.MaxSizeMB,
			MaxBackups: fc.Rotation.MaxBackups,
			MaxAge:     fc.Rotation.MaxAgeDays,
			Compress:   fc.Rotation.Compress,
		}
		w = io.MultiWriter(stderr, l.file)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		l.Logger = slog.New(slog.NewTextHandler(w, opts))
	case "json":
		l.Logger = slog.New(slog.NewJSONHandler(w, opts))
	default:
		return nil, fmt.Errorf("log: unsupported format %q", cfg.Format)
	}
	return l, nil
}

// Init builds the logger described by cfg and makes it the slog default.
func Init(cfg config.LogConfig) (*Logging, error) {
	l, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l.Logger)
	return l, nil
}

// Close closes the log file. Later writes reopen it.
func (l *Logging) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// parseLevel accepts slog level names in any case, offsets like "debug+2",
// "warning" and the empty string (info).
func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	switch strings.ToLower(s) {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log: invalid level %q", s)
	}
	return level, nil
}
