//go:build linux

package probe

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIBusEngineDesc(t *testing.T) {
	src, err := parseIBusEngineDesc([]any{"IBusEngineDesc", map[string]any{}, "hangul", "Korean", "Korean Input Method"})
	require.NoError(t, err)
	assert.Equal(t, InputSource{ID: "hangul", Name: "Korean"}, src)

	_, err = parseIBusEngineDesc([]any{"IBusEngineDesc"})
	assert.Error(t, err)

	_, err = parseIBusEngineDesc("xkb:us::eng")
	assert.Error(t, err)

	_, err = parseIBusEngineDesc([]any{"IBusEngineDesc", nil, "", ""})
	assert.Error(t, err)
}

func TestIBusAddressFromEnv(t *testing.T) {
	t.Setenv("IBUS_ADDRESS", "unix:abstract=/tmp/dbus-test")
	addr, err := ibusAddress()
	require.NoError(t, err)
	assert.Equal(t, "unix:abstract=/tmp/dbus-test", addr)
}

func TestIBusAddressFile(t *testing.T) {
	if _, err := readMachineID(); err != nil {
		t.Skip("no machine id on this host")
	}

	dir := t.TempDir()
	t.Setenv("IBUS_ADDRESS", "")
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("DISPLAY", ":1.0")
	t.Setenv("WAYLAND_DISPLAY", "")

	path, err := ibusAddressFile()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "-unix-1"), path)
	assert.True(t, strings.HasPrefix(path, filepath.Join(dir, "ibus", "bus")), path)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	content := "# This file is created by ibus-daemon, please do not modify it.\n" +
		"IBUS_ADDRESS=unix:path=/tmp/ibus/dbus-abc,guid=123\n" +
		"IBUS_DAEMON_PID=4242\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	addr, err := ibusAddress()
	require.NoError(t, err)
	assert.Equal(t, "unix:path=/tmp/ibus/dbus-abc,guid=123", addr)
}

func TestDetectDisplay(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "wayland-0")
	t.Setenv("DISPLAY", "")
	assert.Equal(t, "wayland", detectDisplay())

	t.Setenv("DISPLAY", ":0")
	assert.Equal(t, "x11", detectDisplay())

	t.Setenv("WAYLAND_DISPLAY", "")
	t.Setenv("DISPLAY", "")
	assert.Equal(t, "unknown", detectDisplay())
}

func TestInputMethodReaderBacksOffWhenNothingRuns(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var calls int
	missing := func() (InputSource, error) {
		calls++
		return InputSource{}, errIMUnavailable
	}
	r := &inputMethodReader{now: func() time.Time { return now }}
	r.readers = []func() (InputSource, error){missing, missing}

	_, ok := r.Current()
	assert.False(t, ok)
	assert.Equal(t, 2, calls)

	now = now.Add(imRetryBackoff / 2)
	_, ok = r.Current()
	assert.False(t, ok)
	assert.Equal(t, 2, calls, "no bus traffic while backing off")

	now = now.Add(imRetryBackoff)
	r.readers[1] = func() (InputSource, error) {
		calls++
		return InputSource{ID: "hangul", Name: "Korean"}, nil
	}
	src, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "hangul", src.ID)
	assert.Equal(t, 4, calls)

	_, ok = r.Current()
	assert.True(t, ok)
	assert.Equal(t, 6, calls, "a hit clears the backoff")
}

func TestInputMethodReaderAnsweringFrameworkDoesNotBackOff(t *testing.T) {
	var calls int
	r := &inputMethodReader{now: time.Now}
	r.readers = []func() (InputSource, error){
		func() (InputSource, error) {
			calls++
			return InputSource{}, errors.New("fcitx5: no current input method")
		},
		func() (InputSource, error) {
			calls++
			return InputSource{}, errIMUnavailable
		},
	}

	r.Current()
	r.Current()
	assert.Equal(t, 4, calls)
}

func TestIBusAddressIsCached(t *testing.T) {
	t.Setenv("IBUS_ADDRESS", "unix:path=/tmp/ibus-first")
	r := newInputMethodReader()

	addr, err := r.resolveIBusAddress()
	require.NoError(t, err)
	assert.Equal(t, "unix:path=/tmp/ibus-first", addr)

	t.Setenv("IBUS_ADDRESS", "unix:path=/tmp/ibus-second")
	addr, err = r.resolveIBusAddress()
	require.NoError(t, err)
	assert.Equal(t, "unix:path=/tmp/ibus-first", addr)

	r.ibusAddr = ""
	addr, err = r.resolveIBusAddress()
	require.NoError(t, err)
	assert.Equal(t, "unix:path=/tmp/ibus-second", addr)
}
