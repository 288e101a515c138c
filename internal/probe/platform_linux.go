//go:build linux

package probe

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/godbus/dbus/v5"
)

// ============================================================================
// Linux probes
// ============================================================================
//
// Caret:        AT-SPI over the accessibility bus (atspi_linux.go)
// Pointer:      robotgo on X11 (pointer_linux.go); nothing on pure Wayland
// Input source: Fcitx5 controller on the session bus, then IBus
//               (inputmethod_linux.go)
//
// ============================================================================

// busCallTimeout bounds every bus round trip made from a tick.
const busCallTimeout = 50 * time.Millisecond

// linuxPlatform implements Platform for Linux desktops.
type linuxPlatform struct {
	displayType string // "x11", "wayland" or "unknown"
	atspi       *atspiTracker
	im          *inputMethodReader
	logger      *slog.Logger
}

// NewPlatform returns the Linux platform. Missing buses are not an error:
// the affected probe simply reports nothing.
func NewPlatform(...Option) (Platform, error) {
	p := &linuxPlatform{
		displayType: detectDisplay(),
		im:          newInputMethodReader(),
		logger:      slog.Default().With("component", "probe_linux"),
	}

	tracker, err := newATSPITracker()
	if err != nil {
		p.logger.Debug("at-spi unavailable", "error", err)
	} else {
		p.atspi = tracker
	}

	return p, nil
}

// detectDisplay determines the display server type.
func detectDisplay() string {
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		// XWayland still lets us read the pointer through X11.
		if os.Getenv("DISPLAY") != "" {
			return "x11"
		}
		return "wayland"
	}
	if os.Getenv("DISPLAY") != "" {
		return "x11"
	}
	return "unknown"
}

func (p *linuxPlatform) Name() string {
	return "linux"
}

func (p *linuxPlatform) Caret() Sample {
	if p.atspi == nil {
		return None
	}
	return p.atspi.Caret()
}

func (p *linuxPlatform) Pointer() Sample {
	if p.displayType != "x11" {
		return None
	}
	return x11Pointer()
}

func (p *linuxPlatform) InputSource() (InputSource, bool) {
	return p.im.Current()
}

func (p *linuxPlatform) Available() (bool, string) {
	if p.atspi == nil {
		return false, "AT-SPI accessibility bus not reachable; enable toolkit accessibility (GTK_MODULES / QT_ACCESSIBILITY=1)"
	}
	switch p.displayType {
	case "x11":
		return true, "AT-SPI caret and X11 pointer available"
	case "wayland":
		return true, "AT-SPI caret available; pointer unavailable on Wayland"
	default:
		return true, "AT-SPI caret available; no display detected for pointer"
	}
}

func (p *linuxPlatform) Close() error {
	var errs []error
	if p.atspi != nil {
		errs = append(errs, p.atspi.Close())
	}
	errs = append(errs, p.im.Close())
	return errors.Join(errs...)
}

// getProperty reads one D-Bus property with the bus call timeout applied.
func getProperty(obj dbus.BusObject, iface, prop string) (dbus.Variant, error) {
	ctx, cancel := context.WithTimeout(context.Background(), busCallTimeout)
	defer cancel()

	var v dbus.Variant
	err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, iface, prop).Store(&v)
	return v, err
}

// unwrapVariant strips nested variants, as returned for properties of type "v".
func unwrapVariant(v dbus.Variant) any {
	value := v.Value()
	for {
		inner, ok := value.(dbus.Variant)
		if !ok {
			return value
		}
		value = inner.Value()
	}
}
