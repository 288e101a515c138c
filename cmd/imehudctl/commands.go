package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imehud/internal/config"
	"imehud/internal/ipc"
	"imehud/internal/probe"
	"imehud/internal/scheduler"
	"imehud/internal/schemavalidation"
	"imehud/internal/sink"
)

// connect dials the daemon and performs the handshake.
func (c *cli) connect(ctx context.Context) (*ipc.IPCClient, error) {
	path, err := c.socket()
	if err != nil {
		return nil, err
	}

	cfg := ipc.DefaultClientConfig(path)
	cfg.ClientName = "imehudctl"
	cfg.ClientVersion = Version

	client := ipc.NewClient(cfg)
	if err := client.Connect(ctx); err != nil {
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			return nil, fmt.Errorf("cannot connect to daemon at %s: %w (start it with: imehud)", path, err)
		}
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", path, err)
	}
	return client, nil
}

// cmdStatus shows daemon status via IPC
func (c *cli) cmdStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	asJSON := fs.Bool("json", false, "print the raw status response")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	if *asJSON {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	c.printSection("DAEMON STATUS")
	c.printField("Version", c.paint(colorCyan, status.Version))
	c.printField("Platform", status.Platform)
	c.printField("Started", status.StartedAt.Format(time.RFC3339))
	c.printField("Uptime", status.Uptime.Round(time.Second))
	c.printField("Interval", status.Interval)
	if status.Available {
		c.printField("Caret probe", c.paint(colorGreen, "AVAILABLE"))
	} else {
		c.printField("Caret probe", c.paint(colorYellow, "POINTER ONLY"))
	}
	if status.AvailabilityDetail != "" {
		c.printField("Detail", status.AvailabilityDetail)
	}

	c.printSection("BROADCAST")
	c.printField("Updates", status.Updates)
	c.printField("Subscribers", status.Subscribers)

	if status.Last != nil {
		c.printSection("LAST UPDATE")
		c.printUpdate(*status.Last)
	}
	fmt.Fprintln(c.stdout)
	return nil
}

// cmdWatch streams updates until interrupted or -count is reached.
func (c *cli) cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	asJSON := fs.Bool("json", false, "print each update as a JSON line")
	validate := fs.Bool("validate", false, "validate every event against the published schema")
	count := fs.Int("count", 0, "exit after this many updates (0 = forever)")
	changes := fs.Bool("changes", false, "only print updates that change position or language")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Subscribe(ctx, ipc.EventStatusUpdate, ipc.EventDaemonShutdown); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	var validator *schemavalidation.Validator
	if *validate {
		validator, err = schemavalidation.New(schemavalidation.Event)
		if err != nil {
			return err
		}
	}

	var (
		seen int
		prev sink.Update
		have bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-client.Events():
			if !ok {
				if err := client.Err(); err != nil {
					return err
				}
				return nil
			}
			if validator != nil {
				if err := validator.ValidateValue(ev); err != nil {
					return fmt.Errorf("event failed validation: %w", err)
				}
			}
			if ev.Type == ipc.EventDaemonShutdown {
				fmt.Fprintln(c.stderr, c.paint(colorYellow, "daemon shutting down"))
				return nil
			}

			u, err := ev.Update()
			if err != nil {
				return err
			}
			if *changes && have && u.SameState(prev) {
				continue
			}
			prev, have = u, true

			if *asJSON {
				if err := json.NewEncoder(c.stdout).Encode(u); err != nil {
					return err
				}
			} else {
				c.printUpdateLine(u)
			}

			seen++
			if *count > 0 && seen >= *count {
				return nil
			}
		}
	}
}

// cmdProbe runs the poll pipeline in-process and prints each tick.
func (c *cli) cmdProbe(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	static := fs.Bool("static", false, "use a static platform instead of the native probes")
	n := fs.Int("n", 1, "number of ticks")
	interval := fs.Duration("interval", scheduler.DefaultInterval, "time between ticks")
	asJSON := fs.Bool("json", false, "print each update as a JSON line")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n < 1 {
		return errors.New("-n must be at least 1")
	}

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	var platform probe.Platform
	if *static {
		platform = probe.NewStatic()
	} else {
		var opts []probe.Option
		if c.mainThread != nil {
			opts = append(opts, probe.WithMainThread(c.mainThread))
		}
		platform, err = probe.NewPlatform(opts...)
		if err != nil {
			return fmt.Errorf("init platform: %w", err)
		}
	}
	defer platform.Close()

	if !*asJSON {
		ok, detail := platform.Available()
		c.printField("Platform", platform.Name())
		if ok {
			c.printField("Caret probe", c.paint(colorGreen, detail))
		} else {
			c.printField("Caret probe", c.paint(colorYellow, detail))
		}
	}

	updates := sink.NewChan(*n)
	sch := scheduler.New(probe.New(platform, cfg.Classifier()), cfg.Policy(), updates, scheduler.Options{
		Interval: *interval,
		Logger:   slog.New(slog.DiscardHandler),
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- sch.Run(ctx) }()
	defer func() {
		cancel()
		<-stopped
	}()

	for range *n {
		var u sink.Update
		select {
		case u = <-updates.C():
		case err := <-stopped:
			stopped <- err
			return fmt.Errorf("poll loop stopped early: %v", err)
		}
		if *asJSON {
			if err := json.NewEncoder(c.stdout).Encode(u); err != nil {
				return err
			}
			continue
		}
		c.printUpdateLine(u)
	}
	return nil
}

// cmdInitConfig writes the default configuration. An existing file is
// loaded and left alone unless -force is given.
func (c *cli) cmdInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	force := fs.Bool("force", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := c.configPath
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		path = config.ConfigPath()
	}

	if *force {
		if err := config.Save(config.DefaultConfig(), path); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "%s %s\n", c.paint(colorGreen, "Wrote defaults to"), path)
		return nil
	}

	cfg, created, err := config.LoadOrCreate(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(c.stdout, "%s %s\n", c.paint(colorGreen, "Created"), path)
		return nil
	}
	fmt.Fprintf(c.stdout, "%s already exists (version %d); use -force to overwrite\n", path, cfg.Version)
	return nil
}

func (c *cli) printUpdate(u sink.Update) {
	c.printField("Position", fmt.Sprintf("(%.0f, %.0f)", u.X, u.Y))
	c.printField("Language", c.langLabel(u.Lang))
	c.printField("Source", u.Source)
	if u.StaleCaret {
		c.printField("Stale caret", c.paint(colorYellow, "yes"))
	}
	if u.Diagnostic != "" {
		c.printField("Input source", u.Diagnostic)
	}
	if !u.Time.IsZero() {
		c.printField("Time", u.Time.Format(time.RFC3339Nano))
	}
}

func (c *cli) printUpdateLine(u sink.Update) {
	stale := ""
	if u.StaleCaret {
		stale = c.paint(colorYellow, " stale-caret")
	}
	fmt.Fprintf(c.stdout, "%s %s (%.0f, %.0f) %s%s\n",
		c.paint(colorDim, fmt.Sprintf("#%d", u.Seq)),
		c.langLabel(u.Lang), u.X, u.Y, u.Source, stale)
}

func (c *cli) langLabel(l probe.Lang) string {
	if l == probe.LangKorean {
		return c.paint(colorCyan+colorBold, string(l))
	}
	return c.paint(colorBold, string(l))
}
