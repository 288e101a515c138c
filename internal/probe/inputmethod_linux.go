//go:build linux

package probe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/joho/godotenv"
)

const (
	fcitxService    = "org.fcitx.Fcitx5"
	fcitxPath       = "/controller"
	fcitxController = "org.fcitx.Fcitx.Controller1"

	ibusService   = "org.freedesktop.IBus"
	ibusPath      = "/org/freedesktop/IBus"
	ibusInterface = "org.freedesktop.IBus"

	// imRetryBackoff is how long the reader stays quiet after finding
	// neither input method framework running.
	imRetryBackoff = 2 * time.Second
)

// errIMUnavailable marks a framework that is not running or not reachable,
// as opposed to one that answered without a usable input method.
var errIMUnavailable = errors.New("input method framework unavailable")

// inputMethodReader reads the active input method from Fcitx5 or IBus.
// Bus connections are opened lazily and dropped after a failed call. When
// neither framework is reachable the reader backs off instead of dialing
// on every tick.
type inputMethodReader struct {
	mu       sync.Mutex
	session  *dbus.Conn
	ibus     *dbus.Conn
	ibusAddr string // resolved once, forgotten when dialing it fails

	readers []func() (InputSource, error)
	retryAt time.Time
	now     func() time.Time
}

func newInputMethodReader() *inputMethodReader {
	r := &inputMethodReader{now: time.Now}
	r.readers = []func() (InputSource, error){r.fcitx, r.ibusEngine}
	return r
}

// Current returns the active input source, trying Fcitx5 first.
func (r *inputMethodReader) Current() (InputSource, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.retryAt) {
		return InputSource{}, false
	}

	unavailable := true
	for _, read := range r.readers {
		src, err := read()
		if err == nil {
			r.retryAt = time.Time{}
			return src, true
		}
		if !errors.Is(err, errIMUnavailable) {
			unavailable = false
		}
	}
	if unavailable {
		r.retryAt = now.Add(imRetryBackoff)
	}
	return InputSource{}, false
}

func (r *inputMethodReader) fcitx() (InputSource, error) {
	if r.session == nil {
		conn, err := dbus.ConnectSessionBus()
		if err != nil {
			return InputSource{}, fmt.Errorf("%w: session bus: %v", errIMUnavailable, err)
		}
		r.session = conn
	}

	ctx, cancel := context.WithTimeout(context.Background(), busCallTimeout)
	defer cancel()

	var name string
	err := r.session.Object(fcitxService, fcitxPath).
		CallWithContext(ctx, fcitxController+".CurrentInputMethod", 0).
		Store(&name)
	if err != nil {
		var dbusErr dbus.Error
		if !errors.As(err, &dbusErr) {
			// Transport failure rather than "no such service": redial next time.
			r.session.Close()
			r.session = nil
		}
		return InputSource{}, fmt.Errorf("%w: fcitx5: %v", errIMUnavailable, err)
	}
	if name == "" {
		return InputSource{}, errors.New("fcitx5: no current input method")
	}
	return InputSource{ID: name, Name: "fcitx5:" + name}, nil
}

func (r *inputMethodReader) ibusEngine() (InputSource, error) {
	if r.ibus == nil {
		addr, err := r.resolveIBusAddress()
		if err != nil {
			return InputSource{}, fmt.Errorf("%w: %v", errIMUnavailable, err)
		}
		conn, err := dbus.Connect(addr)
		if err != nil {
			// The daemon may have restarted on a new address.
			r.ibusAddr = ""
			return InputSource{}, fmt.Errorf("%w: connect ibus: %v", errIMUnavailable, err)
		}
		r.ibus = conn
	}

	v, err := getProperty(r.ibus.Object(ibusService, ibusPath), ibusInterface, "GlobalEngine")
	if err != nil {
		r.ibus.Close()
		r.ibus = nil
		r.ibusAddr = ""
		return InputSource{}, fmt.Errorf("%w: ibus: %v", errIMUnavailable, err)
	}
	return parseIBusEngineDesc(unwrapVariant(v))
}

func (r *inputMethodReader) resolveIBusAddress() (string, error) {
	if r.ibusAddr == "" {
		addr, err := ibusAddress()
		if err != nil {
			return "", err
		}
		r.ibusAddr = addr
	}
	return r.ibusAddr, nil
}

// parseIBusEngineDesc extracts name and long name from a serialized
// IBusEngineDesc: ("IBusEngineDesc", a{sv}, name, longname, ...).
func parseIBusEngineDesc(value any) (InputSource, error) {
	fields, ok := value.([]any)
	if !ok || len(fields) < 4 {
		return InputSource{}, errors.New("ibus: unexpected engine description")
	}
	name, _ := fields[2].(string)
	longName, _ := fields[3].(string)
	if name == "" {
		return InputSource{}, errors.New("ibus: empty engine name")
	}
	return InputSource{ID: name, Name: longName}, nil
}

// ibusAddress resolves the private IBus bus address from IBUS_ADDRESS or
// the bus file IBus writes under ~/.config/ibus/bus.
func ibusAddress() (string, error) {
	if addr := os.Getenv("IBUS_ADDRESS"); addr != "" {
		return addr, nil
	}

	path, err := ibusAddressFile()
	if err != nil {
		return "", err
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return "", fmt.Errorf("read ibus address file: %w", err)
	}
	addr := values["IBUS_ADDRESS"]
	if addr == "" {
		return "", fmt.Errorf("ibus address file %s has no IBUS_ADDRESS", path)
	}
	return addr, nil
}

// ibusAddressFile returns ~/.config/ibus/bus/<machine-id>-<host>-<display>.
func ibusAddressFile() (string, error) {
	machineID, err := readMachineID()
	if err != nil {
		return "", err
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}

	host, display := "unix", "0"
	if d := os.Getenv("DISPLAY"); d != "" {
		h, rest, _ := strings.Cut(d, ":")
		if h != "" {
			host = h
		}
		display, _, _ = strings.Cut(rest, ".")
	} else if w := os.Getenv("WAYLAND_DISPLAY"); w != "" {
		display = w
	}

	return filepath.Join(configHome, "ibus", "bus", fmt.Sprintf("%s-%s-%s", machineID, host, display)), nil
}

func readMachineID() (string, error) {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		data, err := os.ReadFile(path)
		if err == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id, nil
			}
		}
	}
	return "", errors.New("machine id not found")
}

// Close closes any open bus connections.
func (r *inputMethodReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	if r.session != nil {
		errs = append(errs, r.session.Close())
		r.session = nil
	}
	if r.ibus != nil {
		errs = append(errs, r.ibus.Close())
		r.ibus = nil
	}
	return errors.Join(errs...)
}
