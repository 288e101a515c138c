package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/imehud/
//   - Linux:   $XDG_STATE_HOME/imehud/ or ~/.local/state/imehud/
//   - Windows: %LOCALAPPDATA%\imehud\logs\
//
// Falls back to ~/.imehud/logs.
func PlatformLogDir() string {
	home, _ := os.UserHomeDir()

	switch runtime.GOOS {
	case "darwin":
		if home != "" {
			return filepath.Join(home, "Library", "Logs", "imehud")
		}
	case "linux":
		if state := os.Getenv("XDG_STATE_HOME"); state != "" {
			return filepath.Join(state, "imehud")
		}
		if home != "" {
			return filepath.Join(home, ".local", "state", "imehud")
		}
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "imehud", "logs")
		}
	}
	return filepath.Join(Dir(), "logs")
}

// PlatformRuntimeDir returns the directory for the IPC socket and the
// instance lock.
//
// Platform paths:
//   - Linux:   $XDG_RUNTIME_DIR/ or /tmp/imehud-$UID/
//   - macOS:   /tmp/imehud-$UID/
//   - Windows: ~/.imehud/ (AF_UNIX sockets need a short filesystem path)
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
			return xdg
		}
		return filepath.Join(os.TempDir(), "imehud-"+getUserID())
	case "windows":
		return Dir()
	default:
		return filepath.Join("/tmp", "imehud-"+getUserID())
	}
}

// DefaultSocketPath returns the default IPC socket path. IMEHUD_SOCKET_PATH
// is honoured here too so that clients agree with an overridden daemon.
func DefaultSocketPath() string {
	if v := os.Getenv("IMEHUD_SOCKET_PATH"); v != "" {
		return v
	}
	return filepath.Join(PlatformRuntimeDir(), "imehud.sock")
}

func getUserID() string {
	uid := os.Getuid()
	if uid < 0 {
		// Windows
		if name := os.Getenv("USERNAME"); name != "" {
			return name
		}
		return "user"
	}
	return strconv.Itoa(uid)
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	// Search order:
	// 1. Current directory
	// 2. imehud directory
	for _, dir := range []string{".", Dir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
