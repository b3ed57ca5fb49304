package main

import (
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"ScriptScan/internal/host"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a Lua userscript",
		ArgsUsage: "<script> [args...]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("missing script path", 2)
			}
			opts, err := loadOptions(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			script := c.Args().First()
			sys, err := startSystem(ctx, opts, host.Options{Args: c.Args().Tail()}, nil)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer shutdown(sys)

			h, err := sys.Host(ctx)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			logrus.WithField("script", script).Debug("running userscript")
			if err := h.ExecFile(ctx, script); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}
