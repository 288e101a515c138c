package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"imehud/internal/config"
	"imehud/internal/health"
	"imehud/internal/ipc"
	"imehud/internal/logging"
	"imehud/internal/metrics"
	"imehud/internal/probe"
	"imehud/internal/scheduler"
	"imehud/internal/sink"
)

// loopMaxAge is the shortest time the poll loop may go without a tick before
// the health check reports it stuck. Slow intervals stretch it to three ticks.
const loopMaxAge = time.Second

type daemonDeps struct {
	platform probe.Platform
	logger   *logging.Logger
	crash    *logging.CrashHandler
}

// daemon owns every long-lived component of one imehud process.
type daemon struct {
	logger   *slog.Logger
	platform probe.Platform
	crash    *logging.CrashHandler

	metrics   *metrics.HUDMetrics
	health    *health.Checker
	ipc       *ipc.Server
	scheduler *scheduler.Scheduler

	mu      sync.Mutex
	cfg     *config.Config
	httpSrv *http.Server
	httpLn  net.Listener
}

func newDaemon(cfg *config.Config, deps daemonDeps) (*daemon, error) {
	if err := cfg.Policy().Validate(); err != nil {
		return nil, err
	}

	d := &daemon{
		logger:   deps.logger.WithComponent("daemon"),
		platform: deps.platform,
		crash:    deps.crash,
		cfg:      cfg,
		metrics:  metrics.NewHUDMetrics(nil),
		health:   health.NewChecker(),
	}

	sinks := sink.Multi{sink.NewLog(deps.logger.Logger)}
	if cfg.IPC.Enabled {
		d.ipc = ipc.NewServer(ipc.ServerConfig{
			SocketPath:     cfg.IPC.SocketPath,
			Version:        Version,
			Permissions:    cfg.SocketMode(),
			MaxConnections: cfg.IPC.MaxConnections,
			Logger:         deps.logger.Logger,
			Status:         d.status,
		})
		sinks = append(sinks, d.ipc)
	}

	probes := probe.New(d.platform, cfg.Classifier())
	d.scheduler = scheduler.New(probes, cfg.Policy(), sinks, scheduler.Options{
		Interval: cfg.Interval(),
		Logger:   deps.logger.Logger,
		Metrics:  d.metrics,
	})

	d.health.RegisterFunc("loop", true, health.LoopCheck(d.scheduler.LastTick, d.loopMaxAge, 2*time.Second))
	d.health.RegisterFunc("accessibility", false, health.AccessibilityCheck(d.platform.Available))
	if d.ipc != nil {
		d.health.RegisterFunc("ipc", false, health.SocketCheck(cfg.IPC.SocketPath))
	}
	return d, nil
}

func (d *daemon) loopMaxAge() time.Duration {
	return max(loopMaxAge, 3*d.scheduler.Interval())
}

// status fills the daemon half of an IPC status response.
func (d *daemon) status() ipc.StatusResponse {
	ok, detail := d.platform.Available()
	return ipc.StatusResponse{
		Platform:           d.platform.Name(),
		Available:          ok,
		AvailabilityDetail: detail,
		Interval:           d.scheduler.Interval(),
	}
}

// run starts the components, blocks until ctx ends and tears down in
// reverse order.
func (d *daemon) run(ctx context.Context) error {
	defer func() {
		if err := d.platform.Close(); err != nil {
			d.logger.Warn("release platform", "error", err)
		}
	}()

	if ok, detail := d.platform.Available(); !ok {
		d.logger.Warn("caret probing unavailable; following the pointer only",
			"platform", d.platform.Name(), "detail", detail)
	}

	if d.ipc != nil {
		if err := d.ipc.Start(); err != nil {
			return fmt.Errorf("start ipc: %w", err)
		}
		defer d.ipc.Stop()
	}

	if err := d.startHTTP(); err != nil {
		return err
	}
	defer d.stopHTTP()

	d.health.SetReady(true)
	d.logger.Info("imehud started", "version", Version, "platform", d.platform.Name(),
		"interval", d.scheduler.Interval(), "ipc", d.ipc != nil, "health", d.health.Names())

	err := d.crash.Guard("scheduler", nil, func() error {
		return d.scheduler.Run(ctx)
	})
	d.health.SetReady(false)
	if err != nil {
		return fmt.Errorf("poll loop: %w", err)
	}

	d.logger.Info("imehud stopped", "ticks", d.metrics.TicksTotal.Value())
	return nil
}

// apply pushes a reloaded configuration into the running components.
// Socket, logging and metrics endpoint changes need a restart.
func (d *daemon) apply(next *config.Config) {
	d.mu.Lock()
	prev := d.cfg
	d.cfg = next
	d.mu.Unlock()

	d.scheduler.SetPolicy(next.Policy())
	d.scheduler.SetClassifier(next.Classifier())
	d.scheduler.SetInterval(next.Interval())

	if prev.IPC != next.IPC || prev.Logging != next.Logging || prev.Metrics != next.Metrics {
		d.logger.Warn("some configuration changes take effect after restart",
			"ipc_changed", prev.IPC != next.IPC,
			"logging_changed", prev.Logging != next.Logging,
			"metrics_changed", prev.Metrics != next.Metrics)
	}
	d.logger.Info("configuration reloaded",
		"interval", next.Interval(),
		"stale_distance", next.Position.StaleDistance,
		"korean_markers", len(next.Language.KoreanMarkers))
}

func (d *daemon) startHTTP() error {
	d.mu.Lock()
	mc := d.cfg.Metrics
	d.mu.Unlock()
	if !mc.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Registry().HTTPHandler())
	d.health.Mount(mux)

	ln, err := net.Listen("tcp", mc.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", mc.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.httpSrv = srv
	d.httpLn = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics server failed", "error", err)
		}
	}()
	d.logger.Info("metrics endpoint listening", "addr", ln.Addr().String())
	return nil
}

func (d *daemon) stopHTTP() {
	if d.httpSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d.httpSrv.Shutdown(ctx)
}
