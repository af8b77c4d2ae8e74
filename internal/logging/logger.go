// Package logging provides the structured logger shared by all workbench
// subsystems. It wraps zerolog with a small config surface so components can
// be constructed from config values without knowing the backend.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	Level      zerolog.Level
	Format     string // "text" or "json"
	TimeFormat string
}

// FileConfig controls optional file output alongside stderr.
type FileConfig struct {
	Enabled       bool
	LogDir        string
	SessionID     string
	WriteToStderr bool
}

// ParseLevel maps a config string to a zerolog level. Unknown values
// default to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New constructs a logger writing to the given writer.
func New(cfg Config, w io.Writer) zerolog.Logger {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	if strings.ToLower(cfg.Format) != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timeFormat}
	}
	return zerolog.New(w).Level(cfg.Level).With().Timestamp().Logger()
}

// NewFromConfigValues builds a stderr logger from raw config strings.
func NewFromConfigValues(level, format string) zerolog.Logger {
	return New(Config{Level: ParseLevel(level), Format: format}, os.Stderr)
}

// NewWithFile builds a logger that also writes to a per-session log file.
// The returned cleanup closes the file; it is safe to call more than once.
func NewWithFile(cfg Config, fileCfg FileConfig) (zerolog.Logger, func(), error) {
	if !fileCfg.Enabled {
		return New(cfg, os.Stderr), func() {}, nil
	}

	if err := os.MkdirAll(fileCfg.LogDir, 0o750); err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(fileCfg.LogDir, SessionFilename(fileCfg.SessionID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return zerolog.Nop(), func() {}, fmt.Errorf("failed to open log file: %w", err)
	}

	var w io.Writer = file
	if fileCfg.WriteToStderr {
		w = io.MultiWriter(file, os.Stderr)
	}

	cleanup := func() { _ = file.Close() }
	return New(cfg, w), cleanup, nil
}

// Component returns a child logger tagged with the subsystem name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
