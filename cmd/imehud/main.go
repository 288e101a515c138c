// imehud - Caret-following IME language indicator daemon
//
// imehud polls the text caret, the mouse pointer and the active keyboard
// input source every frame, decides where a small "ko"/"en" overlay should
// sit, and publishes the result to local renderers over a unix socket.
//
//	imehud                          Run with ~/.imehud/config.toml
//	imehud -config path.yaml        Run with an explicit config file
//	imehud -interval 33ms -no-ipc   Log-only run at 30 Hz
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.design/x/mainthread"

	"imehud/internal/config"
	"imehud/internal/logging"
	"imehud/internal/probe"
	"imehud/internal/security"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

type options struct {
	configPath string
	envFile    string
	logLevel   string
	interval   time.Duration
	noIPC      bool
	version    bool
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("imehud", flag.ContinueOnError)
	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "path to config file (default: ~/.imehud/config.toml)")
	fs.StringVar(&opts.envFile, "env", "", "path to a .env file with IMEHUD_* overrides")
	fs.StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	fs.DurationVar(&opts.interval, "interval", 0, "override poll interval (e.g. 16ms)")
	fs.BoolVar(&opts.noIPC, "no-ipc", false, "do not start the status socket")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), `imehud - IME language indicator daemon

Usage: imehud [options]

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if opts.interval < 0 {
		return nil, errors.New("-interval must be positive")
	}
	return opts, nil
}

// main keeps the main goroutine on the process's first OS thread serving
// main-thread calls, and runs the daemon on another goroutine.
func main() {
	mainthread.Init(daemonMain)
}

func daemonMain() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.version {
		fmt.Printf("imehud %s\n", Version)
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	var envFiles []string
	if opts.envFile != "" {
		envFiles = append(envFiles, opts.envFile)
	}
	if _, err := config.LoadDotEnv(envFiles...); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}

	path := opts.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		path = config.ConfigPath()
	}
	loader := config.NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer loader.Close()

	applyFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}

	lock, err := acquireInstanceLock()
	if err != nil {
		return err
	}
	defer lock.Release()

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	crash := logging.NewCrashHandler(logging.CrashHandlerConfig{
		CrashDir: logging.DefaultCrashDir(config.PlatformLogDir()),
		Version:  Version,
		Logger:   logger.WithComponent("crash"),
	})
	crash.CleanupOldCrashReports(30 * 24 * time.Hour)

	platform, err := probe.NewPlatform(probe.WithMainThread(mainthread.Call))
	if err != nil {
		return fmt.Errorf("init platform: %w", err)
	}

	d, err := newDaemon(cfg, daemonDeps{
		platform: newGuardedPlatform(platform, crash),
		logger:   logger,
		crash:    crash,
	})
	if err != nil {
		platform.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader.OnChange(func(next *config.Config) {
		applyFlags(next, opts)
		d.apply(next)
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload disabled", "path", loader.Path(), "error", err)
	} else {
		go func() {
			for {
				select {
				case err := <-loader.Errors():
					logger.Warn("config reload rejected", "path", loader.Path(), "error", err)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	return d.run(ctx)
}

// acquireInstanceLock keeps a second daemon from polling alongside this one,
// including when the socket is disabled.
func acquireInstanceLock() (*security.InstanceLock, error) {
	dir := config.PlatformRuntimeDir()
	if err := security.EnsurePrivateDir(dir); err != nil {
		return nil, fmt.Errorf("create runtime directory: %w", err)
	}
	lock, err := security.AcquireInstanceLock(filepath.Join(dir, "imehud.lock"))
	if errors.Is(err, security.ErrLocked) {
		return nil, fmt.Errorf("imehud is already running: %w", err)
	}
	return lock, err
}

// applyFlags layers command line overrides over a loaded config.
func applyFlags(cfg *config.Config, opts *options) {
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.interval > 0 {
		cfg.Poll.IntervalMs = int(opts.interval / time.Millisecond)
		if cfg.Poll.IntervalMs == 0 {
			cfg.Poll.IntervalMs = 1
		}
	}
	if opts.noIPC {
		cfg.IPC.Enabled = false
	}
}

// newLogger maps the logging section onto the logging package.
func newLogger(lc config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}

	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Output = lc.Output
	cfg.FilePath = lc.FilePath
	cfg.MaxSize = int64(lc.MaxSizeMB)
	cfg.MaxBackups = lc.MaxBackups
	cfg.MaxAge = lc.MaxAgeDays
	cfg.Compress = lc.Compress
	cfg.AddSource = level == logging.LevelDebug
	return logging.New(cfg)
}
