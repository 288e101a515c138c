package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imehud/internal/config"
	"imehud/internal/ipc"
	"imehud/internal/position"
	"imehud/internal/probe"
	"imehud/internal/sink"
)

func startServer(t *testing.T) *ipc.Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "imehudctl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := ipc.DefaultServerConfig(filepath.Join(dir, "s.sock"))
	cfg.Version = "1.2.3"
	cfg.Status = func() ipc.StatusResponse {
		return ipc.StatusResponse{Platform: "static", Available: true, Interval: 16 * time.Millisecond}
	}
	s := ipc.NewServer(cfg)
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Stop() })

	require.NoError(t, s.Present(context.Background(), sink.Update{
		X: 465, Y: 465, Lang: probe.LangKorean,
		Source: position.SourceCaret, Seq: 7, Time: time.Now(),
	}))
	return s
}

func TestStatusJSON(t *testing.T) {
	s := startServer(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-socket", s.SocketPath(), "status", "-json"}, &stdout, &stderr, nil)
	require.Equal(t, 0, code, stderr.String())

	var status ipc.StatusResponse
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &status))
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, "static", status.Platform)
	require.NotNil(t, status.Last)
	assert.Equal(t, probe.LangKorean, status.Last.Lang)
	assert.Equal(t, uint64(7), status.Last.Seq)
}

func TestStatusText(t *testing.T) {
	s := startServer(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-socket", s.SocketPath(), "status"}, &stdout, &stderr, nil)
	require.Equal(t, 0, code, stderr.String())

	out := stdout.String()
	assert.Contains(t, out, "DAEMON STATUS")
	assert.Contains(t, out, "AVAILABLE")
	assert.Contains(t, out, "(465, 465)")
	assert.NotContains(t, out, "\033[", "no color codes when not writing to a terminal")
}

func TestWatchReplaysLastUpdate(t *testing.T) {
	s := startServer(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-socket", s.SocketPath(), "watch", "-json", "-validate", "-count", "1"}, &stdout, &stderr, nil)
	require.Equal(t, 0, code, stderr.String())

	var u sink.Update
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &u))
	assert.Equal(t, 465.0, u.X)
	assert.Equal(t, probe.LangKorean, u.Lang)
}

func TestWatchStopsOnShutdown(t *testing.T) {
	s := startServer(t)

	done := make(chan int, 1)
	var stdout, stderr bytes.Buffer
	go func() {
		done <- run([]string{"-socket", s.SocketPath(), "watch"}, &stdout, &stderr, nil)
	}()

	require.Eventually(t, func() bool { return s.Status().Subscribers == 1 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not exit after daemon shutdown")
	}
	assert.Contains(t, stdout.String(), "(465, 465)")
}

func TestProbeStatic(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"probe", "-static", "-n", "2", "-interval", "1ms", "-json"}, &stdout, &stderr, nil)
	require.Equal(t, 0, code, stderr.String())

	sc := bufio.NewScanner(&stdout)
	var lines int
	for sc.Scan() {
		var u sink.Update
		require.NoError(t, json.Unmarshal(sc.Bytes(), &u))
		assert.Equal(t, 100.0, u.X)
		assert.Equal(t, 100.0, u.Y)
		assert.Equal(t, probe.LangEnglish, u.Lang)
		assert.Equal(t, position.SourceDefault, u.Source)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestDaemonNotRunning(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-socket", filepath.Join(t.TempDir(), "none.sock"), "status"}, &stdout, &stderr, nil)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "start it with: imehud")
}

func TestUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, &stdout, &stderr, nil))
	assert.Equal(t, 2, run([]string{"bogus"}, &stdout, &stderr, nil))
	assert.True(t, strings.Contains(stderr.String(), "Unknown command: bogus"))
	assert.Equal(t, 1, run([]string{"probe", "-static", "-n", "0"}, &stdout, &stderr, nil))
	assert.Equal(t, 0, run([]string{"status", "-h"}, &stdout, &stderr, nil))

	stdout.Reset()
	assert.Equal(t, 0, run([]string{"version"}, &stdout, &stderr, nil))
	assert.Equal(t, "imehudctl dev\n", stdout.String())
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")
	var stdout, stderr bytes.Buffer

	require.Equal(t, 0, run([]string{"init-config", path}, &stdout, &stderr, nil), stderr.String())
	assert.Contains(t, stdout.String(), "Created")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := config.NewLoader(path).Load()
	require.NoError(t, err)
	cfg.Poll.IntervalMs = 50
	require.NoError(t, config.Save(cfg, path))

	stdout.Reset()
	require.Equal(t, 0, run([]string{"init-config", path}, &stdout, &stderr, nil))
	assert.Contains(t, stdout.String(), "already exists")
	cfg, err = config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Poll.IntervalMs, "existing file is kept")

	stdout.Reset()
	require.Equal(t, 0, run([]string{"-config", path, "init-config", "-force"}, &stdout, &stderr, nil))
	assert.Contains(t, stdout.String(), "Wrote defaults")
	cfg, err = config.NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Poll.IntervalMs)
}
