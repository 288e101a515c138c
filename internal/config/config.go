// Package config handles configuration loading, validation, and management for imehud.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"imehud/internal/position"
	"imehud/internal/probe"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Poll configuration for the tick loop.
	Poll PollConfig `toml:"poll" json:"poll" yaml:"poll"`

	// Position configuration for the caret/pointer arbitration.
	Position PositionConfig `toml:"position" json:"position" yaml:"position"`

	// Language configuration for input source classification.
	Language LanguageConfig `toml:"language" json:"language" yaml:"language"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// IPC configuration for the status broadcast socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Metrics configuration for the HTTP metrics and health endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
}

// PollConfig holds tick loop configuration.
type PollConfig struct {
	// IntervalMs is the time between ticks in milliseconds.
	IntervalMs int `toml:"interval_ms" json:"interval_ms" yaml:"interval_ms"`
}

// PositionConfig holds the overlay placement thresholds and offsets.
type PositionConfig struct {
	// CaretMin is the value both caret coordinates must exceed.
	CaretMin int `toml:"caret_min" json:"caret_min" yaml:"caret_min"`

	// StaleDistance is the largest caret-to-pointer Manhattan distance at
	// which the caret is still trusted.
	StaleDistance int `toml:"stale_distance" json:"stale_distance" yaml:"stale_distance"`

	CaretOffsetX   float64 `toml:"caret_offset_x" json:"caret_offset_x" yaml:"caret_offset_x"`
	CaretOffsetY   float64 `toml:"caret_offset_y" json:"caret_offset_y" yaml:"caret_offset_y"`
	PointerOffsetX float64 `toml:"pointer_offset_x" json:"pointer_offset_x" yaml:"pointer_offset_x"`
	PointerOffsetY float64 `toml:"pointer_offset_y" json:"pointer_offset_y" yaml:"pointer_offset_y"`
	FallbackX      float64 `toml:"fallback_x" json:"fallback_x" yaml:"fallback_x"`
	FallbackY      float64 `toml:"fallback_y" json:"fallback_y" yaml:"fallback_y"`
}

// LanguageConfig holds input source classification configuration.
type LanguageConfig struct {
	// KoreanMarkers are substrings that mark an input source as Korean.
	// Matching is case-insensitive on both the source ID and its name.
	KoreanMarkers []string `toml:"korean_markers" json:"korean_markers" yaml:"korean_markers"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log destination: "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum size of a log file before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the maximum number of rotated log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// IPCConfig holds the status socket configuration.
type IPCConfig struct {
	// Enabled determines whether the IPC server is started.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the path to the Unix domain socket.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the socket file mode (e.g., "0600").
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// MaxConnections is the maximum number of concurrent clients.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`
}

// MetricsConfig holds the metrics/health HTTP endpoint configuration.
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	p := position.DefaultPolicy()

	return &Config{
		Version: Version,
		Poll: PollConfig{
			IntervalMs: 16,
		},
		Position: PositionConfig{
			CaretMin:       p.CaretMin,
			StaleDistance:  p.StaleDistance,
			CaretOffsetX:   p.CaretOffset.DX,
			CaretOffsetY:   p.CaretOffset.DY,
			PointerOffsetX: p.PointerOffset.DX,
			PointerOffsetY: p.PointerOffset.DY,
			FallbackX:      p.Fallback.X,
			FallbackY:      p.Fallback.Y,
		},
		Language: LanguageConfig{
			KoreanMarkers: append([]string{}, probe.DefaultKoreanMarkers...),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "imehud.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     DefaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 16,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9477",
		},
	}
}

// Dir returns the base imehud directory, ~/.imehud unless IMEHUD_DATA_DIR
// is set.
func Dir() string {
	if envDir := os.Getenv("IMEHUD_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "imehud")
	}
	return filepath.Join(home, ".imehud")
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads configuration from the specified path, applies environment
// overrides and validates the result. A missing file yields the defaults.
// TOML, JSON and YAML are supported based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	return NewLoader(path).Load()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// Interval returns the poll interval.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Poll.IntervalMs) * time.Millisecond
}

// Policy returns the arbitration policy described by the position section.
func (c *Config) Policy() position.Policy {
	return position.Policy{
		CaretMin:      c.Position.CaretMin,
		StaleDistance: c.Position.StaleDistance,
		CaretOffset:   position.Offset{DX: c.Position.CaretOffsetX, DY: c.Position.CaretOffsetY},
		PointerOffset: position.Offset{DX: c.Position.PointerOffsetX, DY: c.Position.PointerOffsetY},
		Fallback:      position.Target{X: c.Position.FallbackX, Y: c.Position.FallbackY},
	}
}

// Classifier returns a language classifier using the configured markers.
func (c *Config) Classifier() *probe.Classifier {
	return probe.NewClassifier(c.Language.KoreanMarkers)
}

// SocketMode parses IPC.Permissions, defaulting to 0600.
func (c *Config) SocketMode() os.FileMode {
	mode, err := strconv.ParseUint(c.IPC.Permissions, 8, 32)
	if err != nil || c.IPC.Permissions == "" {
		return 0600
	}
	return os.FileMode(mode)
}

// EnsureDirectories creates the directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{}
	if c.IPC.Enabled {
		dirs = append(dirs, filepath.Dir(c.IPC.SocketPath))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. Variables are prefixed with IMEHUD_. Unparsable values are
// reported as validation errors and leave the field unchanged.
func (c *Config) ApplyEnvOverrides() error {
	var errs ValidationErrors

	envInt := func(key, field string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("%s=%q is not an integer", key, v)})
			return
		}
		*dst = n
	}
	envBool := func(key, field string, dst *bool) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("%s=%q is not a boolean", key, v)})
			return
		}
		*dst = b
	}
	envString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Poll and position overrides
	envInt("IMEHUD_POLL_INTERVAL_MS", "poll.interval_ms", &c.Poll.IntervalMs)
	envInt("IMEHUD_CARET_MIN", "position.caret_min", &c.Position.CaretMin)
	envInt("IMEHUD_STALE_DISTANCE", "position.stale_distance", &c.Position.StaleDistance)

	// Language overrides
	if v := os.Getenv("IMEHUD_KOREAN_MARKERS"); v != "" {
		var markers []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				markers = append(markers, m)
			}
		}
		c.Language.KoreanMarkers = markers
	}

	// Logging overrides
	envString("IMEHUD_LOG_LEVEL", &c.Logging.Level)
	envString("IMEHUD_LOG_FORMAT", &c.Logging.Format)
	envString("IMEHUD_LOG_OUTPUT", &c.Logging.Output)
	envString("IMEHUD_LOG_PATH", &c.Logging.FilePath)

	// IPC overrides
	envBool("IMEHUD_IPC_ENABLED", "ipc.enabled", &c.IPC.Enabled)
	envString("IMEHUD_SOCKET_PATH", &c.IPC.SocketPath)

	// Metrics overrides
	envBool("IMEHUD_METRICS_ENABLED", "metrics.enabled", &c.Metrics.Enabled)
	envString("IMEHUD_METRICS_ADDR", &c.Metrics.ListenAddr)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Language.KoreanMarkers = append([]string{}, c.Language.KoreanMarkers...)
	return &clone
}
