package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"ScriptScan/internal"
	"ScriptScan/internal/host"
	"ScriptScan/internal/system"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "ScriptScan",
		Usage:   "Scriptable content scanner driven by Lua userscripts",
		Version: internal.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML config file (default: .scriptscan.yml in the working directory, if present)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: trace, debug, info, warn, error",
				Value: "warn",
			},
			&cli.StringFlag{
				Name:  "logfile",
				Usage: "Write logs into file instead of stderr",
			},
			&cli.BoolFlag{
				Name:  "unsafe-mode",
				Usage: "Open the debug and channel Lua libraries to userscripts",
			},
			&cli.IntFlag{
				Name:  "threads",
				Usage: "Max concurrent engine invocations (default scales with CPU)",
			},
			&cli.DurationFlag{
				Name:  "engine-timeout",
				Usage: "Time limit for a single engine invocation (0 - unlimited)",
				Value: internal.DefaultEngineTimeout,
			},
			&cli.StringFlag{
				Name:  "max-item-size",
				Usage: "Skip items larger than this (e.g. 512KB, 64MB; empty - unlimited)",
				Value: internal.DefaultMaxItemSize,
			},
			&cli.IntFlag{
				Name:  "mailbox-limit",
				Usage: "Bound every component mailbox (0 - unbounded)",
			},
			&cli.StringSliceFlag{
				Name:  "rules",
				Usage: "Rule file to load as scan engines (pattern .txt, .json or .yar); repeatable",
			},
			&cli.BoolFlag{
				Name:  "watch-rules",
				Usage: "Reload rule files when they change",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Global timeout for the command (e.g. 10m, 1h)",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			interactiveCommand(),
			scanCommand(),
		},
	}
}

// loadOptions layers the command line over the config file, validates and
// prepares the result, and sets up logging.
func loadOptions(c *cli.Context) (*internal.Options, error) {
	opts := &internal.Options{
		LogLevel:      c.String("log-level"),
		LogFile:       c.String("logfile"),
		Threads:       c.Int("threads"),
		EngineTimeout: c.Duration("engine-timeout"),
		MaxItemSize:   c.String("max-item-size"),
		MailboxLimit:  c.Int("mailbox-limit"),
		Unsafe:        c.Bool("unsafe-mode"),
		Rules:         stringSliceAll(c, "rules"),
		WatchRules:    c.Bool("watch-rules"),
	}
	if c.Command != nil && c.Command.Name == "scan" {
		opts.Walk = internal.WalkOptions{
			Depth:           c.Int("depth"),
			Archives:        c.Bool("archives"),
			SniffArchives:   c.Bool("sniff-archives"),
			FailFast:        c.Bool("fail-fast"),
			MaxArchiveFiles: c.Int("max-archive-files"),
			Whitelist:       splitList(c.StringSlice("whitelist")),
			Blacklist:       splitList(c.StringSlice("blacklist")),
			Include:         c.StringSlice("include"),
			Exclude:         c.StringSlice("exclude"),
		}
	}

	var (
		cfg  internal.FileConfig
		from string
		err  error
	)
	if p := c.String("config"); p != "" {
		cfg, err = internal.LoadFile(p)
		from = p
	} else {
		cfg, from, err = internal.LoadLocal(".")
		if errors.Is(err, internal.ErrNoConfig) {
			err = nil
		}
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Apply(opts, c.IsSet); err != nil {
		return nil, err
	}

	if err := internal.InitLogger(opts.LogFile, opts.LogLevel); err != nil {
		return nil, err
	}
	if from != "" {
		logrus.WithField("file", from).Debug("config loaded")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Prepare() // build fast lookup maps, set thread defaults
	return opts, nil
}

// commandContext is cancelled by SIGINT/SIGTERM or the global timeout.
func commandContext(c *cli.Context) (context.Context, context.CancelFunc) {
	base := c.Context
	if base == nil {
		base = context.Background()
	}
	var cancel context.CancelFunc
	if t := c.Duration("timeout"); t > 0 {
		base, cancel = context.WithTimeout(base, t)
	} else {
		base, cancel = context.WithCancel(base)
	}
	ctx, stop := signal.NotifyContext(base, syscall.SIGINT, syscall.SIGTERM)
	return ctx, func() {
		stop()
		cancel()
	}
}

func startSystem(ctx context.Context, opts *internal.Options, hostOpts host.Options, stats *internal.AppStats) (system.Handle, error) {
	sys, err := system.Start(ctx, system.FromOptions(opts, hostOpts, stats))
	if err != nil {
		return system.Handle{}, fmt.Errorf("start %s: %w", internal.ProgramName, err)
	}
	return sys, nil
}

func shutdown(sys system.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sys.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("shutdown")
	}
}

// stringSliceAll collects a slice flag given both globally and on the command.
func stringSliceAll(c *cli.Context, name string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, cc := range c.Lineage() {
		for _, v := range cc.StringSlice(name) {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
