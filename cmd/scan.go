package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"ScriptScan/internal"
	"ScriptScan/internal/host"
	"ScriptScan/internal/scanmgr"
)

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "Scan files and directories against rule files without a script",
		ArgsUsage: "[paths...]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "rules",
				Usage: "Rule file to load as scan engines; repeatable",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: " + strings.Join(scanmgr.Formats, ", "),
				Value: "table",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Write results to this file instead of stdout",
			},
			&cli.StringSliceFlag{
				Name:  "whitelist",
				Usage: "Only scan these extensions (comma separated, e.g. txt,log,json). Use without dot.",
			},
			&cli.StringSliceFlag{
				Name:  "blacklist",
				Usage: "Skip these extensions (comma separated). If whitelist is set, blacklist is ignored.",
			},
			&cli.StringSliceFlag{
				Name:  "include",
				Usage: "Only scan paths matching these globs (e.g. **/*.env)",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Skip paths matching these globs (e.g. **/node_modules/**)",
			},
			&cli.BoolFlag{
				Name:  "archives",
				Usage: "Also scan archive entries (.zip,.tar,.gz,.bz2,.xz,.rar,.7z,...)",
			},
			&cli.BoolFlag{
				Name:  "sniff-archives",
				Usage: "Detect archives by content as well as by extension",
			},
			&cli.IntFlag{
				Name:  "max-archive-files",
				Usage: "Max entries taken from one archive (0 - default)",
			},
			&cli.IntFlag{
				Name:  "depth",
				Usage: "Max directory depth (0 - unlimited)",
			},
			&cli.BoolFlag{
				Name:  "fail-fast",
				Usage: "Stop immediately on any walk error",
			},
			&cli.StringFlag{
				Name:  "save-matches-file",
				Usage: "Append every result into a single file",
			},
			&cli.StringFlag{
				Name:  "save-matches-folder",
				Usage: "Create per-engine files listing matched items inside this folder",
			},
			&cli.BoolFlag{
				Name:  "no-stats",
				Usage: "Do not print the summary",
			},
		},
		Action: scanAction,
	}
}

func scanAction(c *cli.Context) error {
	opts, err := loadOptions(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if len(opts.Rules) == 0 {
		return cli.Exit("scan needs at least one --rules file", 2)
	}
	if !slices.Contains(scanmgr.Formats, strings.ToLower(c.String("format"))) {
		return cli.Exit(fmt.Sprintf("unknown output format %q", c.String("format")), 2)
	}
	ctx, cancel := commandContext(c)
	defer cancel()

	// roots
	roots := c.Args().Slice()
	if len(roots) == 0 {
		roots = internal.DetectRoots(runtime.GOOS)
		logrus.Infof("No search paths provided, using auto roots: %v", roots)
	}

	var stats internal.AppStats
	stats.Start()
	sys, err := startSystem(ctx, opts, host.Options{}, &stats)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer shutdown(sys)

	q, err := sys.Queue(ctx)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	mgr, err := sys.ScanMgr(ctx)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	queued := 0
	for _, r := range roots {
		st, err := os.Stat(r)
		if err != nil {
			logrus.Warnf("Skip: inaccessible: %s", r)
			continue
		}
		if !st.IsDir() {
			if err := q.EnqueueFile(r); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			queued++
			continue
		}
		n, err := q.EnqueueTree(ctx, r, &opts.Walk)
		queued += n
		if err != nil {
			if errors.Is(err, internal.ErrWalkFailFast) || ctx.Err() != nil {
				return cli.Exit(err.Error(), 1)
			}
			logrus.WithError(err).WithField("root", r).Warn("walk failed")
		}
	}
	stats.ItemsFound.Add(int64(queued))
	if queued == 0 {
		return cli.Exit("No valid search paths", 1)
	}

	results, err := mgr.InvokeScan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			logrus.Warn("Scan cancelled")
		}
		return cli.Exit(err.Error(), 1)
	}

	sink := scanmgr.NewResultSink(scanmgr.SinkOptions{
		MatchesFile:    c.String("save-matches-file"),
		ByEngineFolder: c.String("save-matches-folder"),
	})
	for _, r := range results {
		sink(r)
	}

	var out io.Writer = os.Stdout
	if p := c.String("output"); p != "" {
		f, err := os.Create(p)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		defer f.Close()
		out = f
	}
	if err := scanmgr.Write(out, c.String("format"), results); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if !c.Bool("no-stats") {
		fmt.Fprintf(os.Stderr, "\n======= Scan finished =======\n%s\n", stats.String())
	}
	return nil
}

// splitList accepts repeated flags as well as comma separated values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, v := range strings.Split(s, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
