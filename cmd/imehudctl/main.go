// imehudctl is the control CLI for imehud.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.design/x/mainthread"

	"imehud/internal/config"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// ANSI escape codes for terminal output
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorRed    = "\033[31m"
)

// cli holds the global options and output streams shared by all commands.
type cli struct {
	configPath string
	socketPath string

	stdout io.Writer
	stderr io.Writer
	color  bool

	// mainThread runs a function on the process's main thread. Nil runs it
	// on the caller.
	mainThread func(f func())
}

func main() {
	code := 0
	mainthread.Init(func() {
		code = run(os.Args[1:], os.Stdout, os.Stderr, mainthread.Call)
	})
	os.Exit(code)
}

func run(args []string, stdout, stderr io.Writer, mainThread func(func())) int {
	c := &cli{stdout: stdout, stderr: stderr, color: isTerminal(stdout), mainThread: mainThread}

	fs := flag.NewFlagSet("imehudctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&c.configPath, "config", "", "path to config file (default: ~/.imehud/config.toml)")
	fs.StringVar(&c.socketPath, "socket", "", "daemon socket path (default: from config)")
	noColor := fs.Bool("no-color", false, "disable colored output")
	fs.Usage = func() { c.usage() }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *noColor || os.Getenv("NO_COLOR") != "" {
		c.color = false
	}

	if fs.NArg() < 1 {
		c.usage()
		return 2
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "status":
		err = c.cmdStatus(rest)
	case "watch":
		err = c.cmdWatch(rest)
	case "probe":
		err = c.cmdProbe(rest)
	case "init-config":
		err = c.cmdInitConfig(rest)
	case "version":
		fmt.Fprintf(c.stdout, "imehudctl %s\n", Version)
	case "help":
		c.usage()
	default:
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", cmd)
		c.usage()
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	default:
		c.printError(err.Error())
		return 1
	}
}

func (c *cli) usage() {
	fmt.Fprintln(c.stderr, `imehudctl - Control utility for imehud

Usage: imehudctl [options] <command> [args]

Commands:
  status          Show daemon status and the last published update
  watch           Stream overlay updates from the daemon
  probe           Run the probes locally without a daemon
  init-config     Write a default config file (-force overwrites)
  version         Print version
  help            Show this help message

Options:
  -config <path>  Path to config file (default: ~/.imehud/config.toml)
  -socket <path>  Daemon socket (default: ipc.socket_path from config)
  -no-color       Disable colored output`)
}

// loadConfig reads the configured file, or defaults when there is none.
func (c *cli) loadConfig() (*config.Config, error) {
	path := c.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.NewLoader(path).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// socket resolves the daemon socket path.
func (c *cli) socket() (string, error) {
	if c.socketPath != "" {
		return c.socketPath, nil
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.IPC.SocketPath, nil
}

func (c *cli) paint(color, s string) string {
	if !c.color {
		return s
	}
	return color + s + colorReset
}

func (c *cli) printSection(title string) {
	fmt.Fprintf(c.stdout, "\n%s\n", c.paint(colorBold, title))
}

func (c *cli) printField(name string, value any) {
	fmt.Fprintf(c.stdout, "  %s %v\n", c.paint(colorDim, fmt.Sprintf("%-14s", name)), value)
}

func (c *cli) printError(msg string) {
	fmt.Fprintf(c.stderr, "%s %s\n", c.paint(colorRed+colorBold, "Error:"), msg)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
