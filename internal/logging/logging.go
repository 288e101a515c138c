// Package logging wraps log/slog for the imehud binaries: text or JSON
// output to the console, a rotated file or both, per-component child
// loggers and crash reports for recovered panics.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the slog handler.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat accepts "text" (the default for an empty string) or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format: %s", s)
}

// ParseLevel maps a config level name onto a slog level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %s", s)
}

// Config describes where and how a Logger writes.
type Config struct {
	Level     Level
	Format    Format
	AddSource bool
	Component string // attached to every record when set

	// Output is "stdout", "stderr", "file" or "both" (stderr plus file).
	Output   string
	FilePath string

	// Rotation of FilePath: size in megabytes, age in days.
	MaxSize    int64
	MaxAge     int
	MaxBackups int
	Compress   bool

	// Writer replaces the console stream; tests capture output with it.
	Writer io.Writer
}

func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		MaxSize:    10,
		MaxAge:     14,
		MaxBackups: 3,
		Compress:   true,
		Component:  "imehud",
	}
}

// Logger is a slog.Logger that owns its log file, if any.
type Logger struct {
	*slog.Logger

	mu      sync.Mutex
	rotator *FileRotator
}

// New builds a Logger from cfg; a nil cfg means DefaultConfig.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{}
	w, err := l.open(cfg)
	if err != nil {
		return nil, fmt.Errorf("setup writers: %w", err)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Format == FormatJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	if cfg.Component != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}
	l.Logger = slog.New(h)
	return l, nil
}

// open resolves cfg.Output into a writer, starting the rotator when a file
// is involved.
func (l *Logger) open(cfg *Config) (io.Writer, error) {
	output := strings.ToLower(cfg.Output)

	console := cfg.Writer
	if console == nil {
		console = os.Stderr
		if output == "stdout" {
			console = os.Stdout
		}
	}
	if output != "file" && output != "both" {
		return console, nil
	}

	rotator, err := NewFileRotator(cfg)
	if err != nil {
		return nil, err
	}
	l.rotator = rotator
	if output == "file" {
		return rotator, nil
	}
	return io.MultiWriter(console, rotator), nil
}

// WithComponent returns a child logger tagged with name. Children share the
// parent's outputs, so only the parent is closed.
func (l *Logger) WithComponent(name string) *slog.Logger {
	return l.Logger.With(slog.String("component", name))
}

// SetDefault installs l as the process-wide slog default.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}

// Close releases the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

// Sync flushes the log file to disk.
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Sync()
}
