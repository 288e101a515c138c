package config

import (
	"fmt"
	"net"
	"regexp"
	"slices"
	"strings"
)

// ValidationError names one offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i := range e {
		msgs[i] = e[i].Error()
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the offending field names in report order.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i := range e {
		fields[i] = e[i].Field
	}
	return fields
}

// require records field as invalid unless ok holds.
func (e *ValidationErrors) require(ok bool, field, format string, args ...any) {
	if !ok {
		*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
}

const (
	minIntervalMs = 1
	maxIntervalMs = 10_000
)

var (
	logLevels          = []string{"debug", "info", "warn", "error"}
	logFormats         = []string{"text", "json"}
	logOutputs         = []string{"stdout", "stderr", "file", "both"}
	permissionsPattern = regexp.MustCompile(`^0[0-7]{3}$`)
)

// ValidateConfig checks every section and returns all problems at once as
// ValidationErrors, or nil.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	errs.require(c.Version >= 1 && c.Version <= Version, "version",
		"unsupported version %d (current: %d)", c.Version, Version)

	errs.require(c.Poll.IntervalMs >= minIntervalMs && c.Poll.IntervalMs <= maxIntervalMs, "poll.interval_ms",
		"interval must be between %d and %d ms, got %d", minIntervalMs, maxIntervalMs, c.Poll.IntervalMs)

	errs.require(c.Position.CaretMin >= 0, "position.caret_min", "caret min cannot be negative")
	errs.require(c.Position.StaleDistance >= 1, "position.stale_distance", "stale distance must be at least 1")

	for i, m := range c.Language.KoreanMarkers {
		errs.require(strings.TrimSpace(m) != "", fmt.Sprintf("language.korean_markers[%d]", i), "marker cannot be empty")
	}

	validateLogging(&errs, &c.Logging)

	if c.IPC.Enabled {
		errs.require(c.IPC.SocketPath != "", "ipc.socket_path", "socket path is required when IPC is enabled")
		errs.require(c.IPC.Permissions == "" || permissionsPattern.MatchString(c.IPC.Permissions), "ipc.permissions",
			"invalid permissions format: %s (expected octal like 0600)", c.IPC.Permissions)
		errs.require(c.IPC.MaxConnections >= 1, "ipc.max_connections", "max connections must be at least 1")
	}

	if c.Metrics.Enabled {
		_, _, err := net.SplitHostPort(c.Metrics.ListenAddr)
		errs.require(err == nil, "metrics.listen_addr", "invalid listen address %q: %v", c.Metrics.ListenAddr, err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateLogging(errs *ValidationErrors, l *LoggingConfig) {
	errs.require(slices.Contains(logLevels, l.Level), "logging.level",
		"invalid log level: %s (valid: %s)", l.Level, strings.Join(logLevels, ", "))
	errs.require(slices.Contains(logFormats, l.Format), "logging.format",
		"invalid log format: %s (valid: %s)", l.Format, strings.Join(logFormats, ", "))

	if !slices.Contains(logOutputs, l.Output) {
		errs.require(false, "logging.output",
			"invalid log output: %q (valid: %s)", l.Output, strings.Join(logOutputs, ", "))
	} else if l.Output == "file" || l.Output == "both" {
		errs.require(l.FilePath != "", "logging.file_path", "file path is required when output is '%s'", l.Output)
	}

	errs.require(l.MaxSizeMB >= 1, "logging.max_size_mb", "max size must be at least 1 MB")
	errs.require(l.MaxBackups >= 0, "logging.max_backups", "max backups cannot be negative")
	errs.require(l.MaxAgeDays >= 0, "logging.max_age_days", "max age cannot be negative")
}
