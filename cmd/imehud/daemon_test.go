package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imehud/internal/config"
	"imehud/internal/health"
	"imehud/internal/ipc"
	"imehud/internal/logging"
	"imehud/internal/position"
	"imehud/internal/probe"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	cfg := logging.DefaultConfig()
	cfg.Writer = io.Discard
	l, err := logging.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir, err := os.MkdirTemp("", "imehud")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.DefaultConfig()
	cfg.IPC.SocketPath = filepath.Join(dir, "d.sock")
	cfg.Metrics.Enabled = false
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config, platform probe.Platform) *daemon {
	t.Helper()
	logger := testLogger(t)
	crash := logging.NewCrashHandler(logging.CrashHandlerConfig{
		CrashDir: t.TempDir(),
		Version:  "test",
		Logger:   logger.Logger,
	})

	d, err := newDaemon(cfg, daemonDeps{
		platform: newGuardedPlatform(platform, crash),
		logger:   logger,
		crash:    crash,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	require.Eventually(t, d.health.IsReady, 2*time.Second, 5*time.Millisecond)
	return d
}

func koreanPlatform() *probe.Static {
	p := probe.NewStatic()
	p.SetCaret(probe.Some(500, 500))
	p.SetPointer(probe.Some(510, 505))
	p.SetInputSource(probe.InputSource{ID: "com.apple.inputmethod.Korean.2SetKorean", Name: "2-Set Korean"}, true)
	return p
}

func TestDaemonPublishesUpdates(t *testing.T) {
	cfg := testConfig(t)
	d := startDaemon(t, cfg, koreanPlatform())

	c := ipc.NewClient(ipc.DefaultClientConfig(cfg.IPC.SocketPath))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()
	require.NoError(t, c.Subscribe(context.Background()))

	select {
	case ev := <-c.Events():
		require.NotNil(t, ev)
		u, err := ev.Update()
		require.NoError(t, err)
		assert.Equal(t, 465.0, u.X)
		assert.Equal(t, 465.0, u.Y)
		assert.Equal(t, probe.LangKorean, u.Lang)
		assert.Equal(t, position.SourceCaret, u.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static", status.Platform)
	assert.True(t, status.Available)
	assert.Equal(t, 16*time.Millisecond, status.Interval)
	assert.NotZero(t, d.metrics.TicksTotal.Value())
}

func TestDaemonApplyReload(t *testing.T) {
	cfg := testConfig(t)
	platform := koreanPlatform()
	d := startDaemon(t, cfg, platform)

	next := cfg.Clone()
	next.Poll.IntervalMs = 33
	next.Position.CaretOffsetX = 0
	next.Position.CaretOffsetY = 0
	next.Language.KoreanMarkers = []string{"hangul-only"}
	d.apply(next)

	assert.Equal(t, 33*time.Millisecond, d.scheduler.Interval())
	u := d.scheduler.Tick(context.Background())
	assert.Equal(t, 500.0, u.X)
	assert.Equal(t, 500.0, u.Y)
	assert.Equal(t, probe.LangEnglish, u.Lang)
}

func TestDaemonLoopHealthFollowsInterval(t *testing.T) {
	cfg := testConfig(t)
	cfg.IPC.Enabled = false
	cfg.Poll.IntervalMs = 2000
	d := startDaemon(t, cfg, koreanPlatform())

	assert.Equal(t, 6*time.Second, d.loopMaxAge())

	// Longer than the one-second floor, shorter than one tick.
	time.Sleep(1500 * time.Millisecond)
	result, ok := d.health.CheckComponent(context.Background(), "loop")
	require.True(t, ok)
	assert.Equal(t, health.StatusHealthy, result.Status, result.Message)

	next := cfg.Clone()
	next.Poll.IntervalMs = 16
	d.apply(next)
	assert.Equal(t, loopMaxAge, d.loopMaxAge())
}

func TestDaemonHTTPEndpoints(t *testing.T) {
	cfg := testConfig(t)
	cfg.IPC.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.ListenAddr = "127.0.0.1:0"
	d := startDaemon(t, cfg, koreanPlatform())

	base := "http://" + d.httpLn.Addr().String()

	resp, err := http.Get(base + "/livez")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/readyz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "imehud_ticks_total")
	assert.Contains(t, string(body), `imehud_decisions_total{source="caret"}`)
}

func TestNewDaemonRejectsInvalidPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Position.StaleDistance = 0

	_, err := newDaemon(cfg, daemonDeps{
		platform: probe.NewStatic(),
		logger:   testLogger(t),
		crash:    logging.NewCrashHandler(logging.CrashHandlerConfig{CrashDir: t.TempDir()}),
	})
	assert.ErrorIs(t, err, position.ErrInvalidPolicy)
}

type panickyPlatform struct {
	*probe.Static
}

func (panickyPlatform) Caret() probe.Sample { panic("caret exploded") }

func (panickyPlatform) InputSource() (probe.InputSource, bool) { panic("no tsm") }

func TestGuardedPlatformRecovers(t *testing.T) {
	dir := t.TempDir()
	crash := logging.NewCrashHandler(logging.CrashHandlerConfig{
		CrashDir: dir,
		Version:  "test",
		Logger:   testLogger(t).Logger,
	})

	inner := probe.NewStatic()
	inner.SetPointer(probe.Some(7, 9))
	g := newGuardedPlatform(panickyPlatform{inner}, crash)

	for range 3 {
		assert.Equal(t, probe.None, g.Caret())
	}
	_, ok := g.InputSource()
	assert.False(t, ok)
	assert.Equal(t, probe.Some(7, 9), g.Pointer())

	assert.Equal(t, 3, g.panics("caret"))
	assert.Equal(t, 1, g.panics("input-source"))
	assert.Equal(t, 0, g.panics("pointer"))

	reports, err := crash.CrashReports()
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-config", "x.yaml", "-interval", "33ms", "-no-ipc", "-log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, "x.yaml", opts.configPath)
	assert.Equal(t, 33*time.Millisecond, opts.interval)
	assert.True(t, opts.noIPC)

	_, err = parseFlags([]string{"extra"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"-interval", "-5ms"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"-h"})
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

func TestApplyFlags(t *testing.T) {
	cfg := config.DefaultConfig()
	applyFlags(cfg, &options{logLevel: "warn", interval: 500 * time.Microsecond, noIPC: true})
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 1, cfg.Poll.IntervalMs)
	assert.False(t, cfg.IPC.Enabled)

	cfg = config.DefaultConfig()
	applyFlags(cfg, &options{})
	assert.Equal(t, 16, cfg.Poll.IntervalMs)
	assert.True(t, cfg.IPC.Enabled)
}

func TestNewLogger(t *testing.T) {
	lc := config.DefaultConfig().Logging
	lc.Output = "file"
	lc.FilePath = filepath.Join(t.TempDir(), "imehud.log")
	l, err := newLogger(lc)
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(lc.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")

	lc.Level = "loud"
	_, err = newLogger(lc)
	assert.Error(t, err)
}
