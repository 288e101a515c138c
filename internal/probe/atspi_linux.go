//go:build linux

package probe

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	atspiRegistryService = "org.a11y.atspi.Registry"
	atspiRegistryPath    = "/org/a11y/atspi/registry"
	atspiRegistryIface   = "org.a11y.atspi.Registry"
	atspiEventObject     = "org.a11y.atspi.Event.Object"
	atspiEventWindow     = "org.a11y.atspi.Event.Window"
	atspiText            = "org.a11y.atspi.Text"

	// atspiCoordScreen selects screen coordinates in Text.GetCharacterExtents.
	atspiCoordScreen uint32 = 0
)

// accessibleRef identifies an accessible object on the accessibility bus.
type accessibleRef struct {
	sender string
	path   dbus.ObjectPath
}

// atspiTracker follows focus through AT-SPI events so that each caret query
// can go straight to the focused text object. AT-SPI has no synchronous
// "focused element" query, so remembering the last focus event is the only
// state needed to repeat the probe.
type atspiTracker struct {
	conn    *dbus.Conn
	signals chan *dbus.Signal

	mu      sync.RWMutex
	focused accessibleRef
}

// newATSPITracker connects to the accessibility bus and starts listening
// for focus and caret events.
func newATSPITracker() (*atspiTracker, error) {
	addr, err := a11yBusAddress()
	if err != nil {
		return nil, err
	}

	conn, err := dbus.Connect(addr)
	if err != nil {
		return nil, fmt.Errorf("connect accessibility bus: %w", err)
	}

	for _, event := range []string{"object:state-changed:focused", "object:text-caret-moved", "window:deactivate"} {
		if err := registerATSPIEvent(conn, event); err != nil {
			conn.Close()
			return nil, fmt.Errorf("register %s: %w", event, err)
		}
	}

	for _, m := range []struct{ iface, member string }{
		{atspiEventObject, "StateChanged"},
		{atspiEventObject, "TextCaretMoved"},
		{atspiEventWindow, "Deactivate"},
	} {
		if err := conn.AddMatchSignal(
			dbus.WithMatchInterface(m.iface),
			dbus.WithMatchMember(m.member),
		); err != nil {
			conn.Close()
			return nil, fmt.Errorf("add match %s.%s: %w", m.iface, m.member, err)
		}
	}

	t := &atspiTracker{
		conn:    conn,
		signals: make(chan *dbus.Signal, 64),
	}
	conn.Signal(t.signals)
	go t.eventLoop()

	return t, nil
}

// a11yBusAddress finds the accessibility bus through the session bus.
func a11yBusAddress() (string, error) {
	if addr := os.Getenv("AT_SPI_BUS_ADDRESS"); addr != "" {
		return addr, nil
	}

	session, err := dbus.ConnectSessionBus()
	if err != nil {
		return "", fmt.Errorf("connect session bus: %w", err)
	}
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var addr string
	err = session.Object("org.a11y.Bus", "/org/a11y/bus").
		CallWithContext(ctx, "org.a11y.Bus.GetAddress", 0).
		Store(&addr)
	if err != nil {
		return "", fmt.Errorf("get accessibility bus address: %w", err)
	}
	return addr, nil
}

// registerATSPIEvent asks the registry to forward an event type. Newer
// registries take extra (properties, app bus name) arguments.
func registerATSPIEvent(conn *dbus.Conn, event string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	registry := conn.Object(atspiRegistryService, atspiRegistryPath)
	call := registry.CallWithContext(ctx, atspiRegistryIface+".RegisterEvent", 0, event)
	if call.Err == nil {
		return nil
	}
	return registry.CallWithContext(ctx, atspiRegistryIface+".RegisterEvent", 0, event, []string{}, "").Err
}

// eventLoop runs until the connection is closed, which closes the channel.
func (t *atspiTracker) eventLoop() {
	for sig := range t.signals {
		t.handleSignal(sig)
	}
}

func (t *atspiTracker) handleSignal(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) < 2 {
		return
	}
	kind, _ := sig.Body[0].(string)
	detail1, _ := sig.Body[1].(int32)
	ref := accessibleRef{sender: sig.Sender, path: sig.Path}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch sig.Name {
	case atspiEventObject + ".StateChanged":
		if kind != "focused" {
			return
		}
		if detail1 != 0 {
			t.focused = ref
		} else if t.focused == ref {
			t.focused = accessibleRef{}
		}
	case atspiEventObject + ".TextCaretMoved":
		t.focused = ref
	case atspiEventWindow + ".Deactivate":
		// The focused object's application lost its active window; no
		// focus-lost event is guaranteed to follow.
		if t.focused.sender == sig.Sender {
			t.focused = accessibleRef{}
		}
	}
}

// Caret returns the bottom-left of the caret in the focused text object.
func (t *atspiTracker) Caret() Sample {
	t.mu.RLock()
	ref := t.focused
	t.mu.RUnlock()

	if ref.sender == "" {
		return None
	}

	obj := t.conn.Object(ref.sender, ref.path)
	v, err := getProperty(obj, atspiText, "CaretOffset")
	if err != nil {
		return None
	}
	offset, ok := unwrapVariant(v).(int32)
	if !ok || offset < 0 {
		return None
	}

	return caretPoint(offset, func(i int32) (x, y, w, h int32, err error) {
		return characterExtents(obj, i)
	})
}

// caretPoint turns the character box at offset into the point below the
// caret. A caret after the last character has an empty box, so the right
// edge of the previous character stands in for it.
func caretPoint(offset int32, extents func(offset int32) (x, y, w, h int32, err error)) Sample {
	x, y, w, h, err := extents(offset)
	if err != nil {
		return None
	}
	if w != 0 || h != 0 {
		return Some(int(x), int(y+h))
	}
	if offset == 0 {
		return None
	}
	px, py, pw, ph, err := extents(offset - 1)
	if err != nil || (pw == 0 && ph == 0) {
		return None
	}
	return Some(int(px+pw), int(py+ph))
}

func characterExtents(obj dbus.BusObject, offset int32) (x, y, w, h int32, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), busCallTimeout)
	defer cancel()

	err = obj.CallWithContext(ctx, atspiText+".GetCharacterExtents", 0, offset, atspiCoordScreen).
		Store(&x, &y, &w, &h)
	return x, y, w, h, err
}

// Close disconnects from the accessibility bus.
func (t *atspiTracker) Close() error {
	return t.conn.Close()
}
