package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"imehud/internal/security"
)

// ErrPanicked is wrapped by the error Guard returns after recovering a panic.
var ErrPanicked = errors.New("recovered panic")

// CrashReport represents information about a recovered panic.
type CrashReport struct {
	Timestamp    time.Time      `json:"timestamp"`
	Version      string         `json:"version,omitempty"`
	GOOS         string         `json:"goos"`
	GOARCH       string         `json:"goarch"`
	NumGoroutine int            `json:"num_goroutine"`
	PanicValue   string         `json:"panic_value"`
	StackTrace   string         `json:"stack_trace"`
	Component    string         `json:"component,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// CrashHandlerConfig configures the crash handler.
type CrashHandlerConfig struct {
	// CrashDir is the directory to write crash dumps.
	CrashDir string

	// Version is the application version.
	Version string

	// Logger receives a summary line for every crash. Defaults to slog.Default().
	Logger *slog.Logger

	// OnCrash is called after a crash is written.
	OnCrash func(CrashReport)
}

// CrashHandler turns panics in guarded functions into crash dumps and
// errors. Native probe bindings run inside Guard so a fault in one tick
// cannot take the daemon down silently.
type CrashHandler struct {
	crashDir string
	version  string
	logger   *slog.Logger
	onCrash  func(CrashReport)
}

// DefaultCrashDir returns the crash directory beside the log directory.
func DefaultCrashDir(logDir string) string {
	return filepath.Join(logDir, "crashes")
}

// NewCrashHandler creates a CrashHandler. The crash directory is created
// lazily on the first crash.
func NewCrashHandler(cfg CrashHandlerConfig) *CrashHandler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CrashHandler{
		crashDir: cfg.CrashDir,
		version:  cfg.Version,
		logger:   logger,
		onCrash:  cfg.OnCrash,
	}
}

// Guard runs fn and converts a panic into an error wrapping ErrPanicked.
func (h *CrashHandler) Guard(component string, context map[string]any, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			report := h.HandlePanic(component, r, context)
			err = fmt.Errorf("%s: %w: %s", component, ErrPanicked, report.PanicValue)
		}
	}()
	return fn()
}

// HandlePanic records a recovered panic value.
func (h *CrashHandler) HandlePanic(component string, value any, context map[string]any) CrashReport {
	report := CrashReport{
		Timestamp:    time.Now(),
		Version:      h.version,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprint(value),
		StackTrace:   string(debug.Stack()),
		Component:    component,
		Context:      context,
	}

	path, err := h.writeCrashDump(report)
	if err != nil {
		h.logger.Error("panic recovered; crash dump not written",
			"component", component, "panic", report.PanicValue, "error", err)
	} else {
		h.logger.Error("panic recovered",
			"component", component, "panic", report.PanicValue, "crash_dump", path)
	}

	if h.onCrash != nil {
		h.onCrash(report)
	}
	return report
}

func (h *CrashHandler) writeCrashDump(report CrashReport) (string, error) {
	if h.crashDir == "" {
		return "", errors.New("no crash directory configured")
	}
	if err := security.EnsurePrivateDir(h.crashDir); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("crash-%s-%s.json", report.Timestamp.Format("20060102-150405.000000000"), report.Component)
	path := filepath.Join(h.crashDir, name)
	if err := security.WriteFileAtomic(path, data, security.PermPrivateFile); err != nil {
		return "", err
	}
	return path, nil
}

// CrashReports returns stored crash reports, oldest first.
func (h *CrashHandler) CrashReports() ([]CrashReport, error) {
	entries, err := os.ReadDir(h.crashDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var reports []CrashReport
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "crash-") || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(h.crashDir, e.Name()))
		if err != nil {
			continue
		}
		var r CrashReport
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		reports = append(reports, r)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Timestamp.Before(reports[j].Timestamp)
	})
	return reports, nil
}

// CleanupOldCrashReports removes crash dumps older than maxAge.
func (h *CrashHandler) CleanupOldCrashReports(maxAge time.Duration) error {
	entries, err := os.ReadDir(h.crashDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "crash-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(h.crashDir, e.Name()))
		}
	}
	return nil
}
