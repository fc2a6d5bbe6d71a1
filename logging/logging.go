// Package logging builds the slog loggers of the altfusion tools from
// configuration: a level, console output and an optional rotated log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects where log records go.
type Config struct {
	Level      string `yaml:"level"`    // debug, info, warn or error
	Console    bool   `yaml:"console"`  // Write to stderr
	Filename   string `yaml:"filename"` // Rotated log file, none when empty
	MaxSize    int    `yaml:"max_size"` // MB before the file is rotated
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // Days to keep rotated files
	Compress   bool   `yaml:"compress"`
	Append     bool   `yaml:"append"` // Keep writing to an existing file instead of rotating it first
	JSON       bool   `yaml:"json"`
}

// DefaultConfig logs info and above to the console.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Console:    true,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     7,
		Append:     true,
	}
}

// ParseLevel parses a level name; the empty string is info.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		l = slog.LevelInfo
	case "debug", "trace":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return l, fmt.Errorf("logging: unknown level %q", s)
	}
	return l, nil
}

// New returns a logger for cfg. The returned closer releases the log file and
// must be called when done.
func New(cfg Config, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)
	if cfg.Filename != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		if !cfg.Append {
			if err := lj.Rotate(); err != nil {
				return nil, nil, fmt.Errorf("logging: rotating %s: %w", cfg.Filename, err)
			}
		}
		writers = append(writers, lj)
		closer = lj
	}
	if cfg.Console {
		writers = append(writers, stderr)
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = io.Discard
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
