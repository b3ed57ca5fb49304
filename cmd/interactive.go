package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"ScriptScan/internal"
	"ScriptScan/internal/host"
)

func interactiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "interactive",
		Aliases:   []string{"i"},
		Usage:     "Start a Lua prompt; statements run when a line ends with ';'",
		ArgsUsage: "[args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "startup-script",
				Usage: "Run this script before the first prompt",
			},
			&cli.BoolFlag{
				Name:  "nosplash",
				Usage: "Do not print the banner",
			},
		},
		Action: func(c *cli.Context) error {
			opts, err := loadOptions(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			ctx, cancel := commandContext(c)
			defer cancel()

			sys, err := startSystem(ctx, opts, host.Options{Args: c.Args().Slice()}, nil)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer shutdown(sys)
			h, err := sys.Host(ctx)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			if p := c.String("startup-script"); p != "" {
				if err := h.ExecFile(ctx, p); err != nil {
					return cli.Exit(err.Error(), 1)
				}
			}

			tty := term.IsTerminal(int(os.Stdin.Fd()))
			if tty && !c.Bool("nosplash") {
				fmt.Fprintf(os.Stderr, "%s %s\nEnd statements with ';'. Type exit; or press Ctrl-D to leave.\n",
					internal.ProgramName, internal.Version)
			}
			return repl(ctx, h, os.Stdin, os.Stdout, os.Stderr, tty)
		},
	}
}

// evaluator is the part of the host the prompt needs.
type evaluator interface {
	Eval(ctx context.Context, code string) (any, error)
}

// repl reads chunks from in and evaluates each one. A chunk ends at a line
// whose last non-blank character is ';'.
func repl(ctx context.Context, h evaluator, in io.Reader, out, errOut io.Writer, prompt bool) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var chunk strings.Builder
	eval := func(code string) error {
		v, err := h.Eval(ctx, code)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(errOut, "error: %v\n", err)
			return nil
		}
		if v != nil {
			fmt.Fprintln(out, formatValue(v))
		}
		return nil
	}
	for {
		if prompt {
			if chunk.Len() == 0 {
				fmt.Fprint(errOut, "> ")
			} else {
				fmt.Fprint(errOut, ">> ")
			}
		}
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return err
			}
			// input ended without a closing ';'
			if code := strings.TrimSpace(chunk.String()); code != "" {
				return eval(code)
			}
			return nil
		}
		line := sc.Text()
		chunk.WriteString(line)
		chunk.WriteByte('\n')
		if !strings.HasSuffix(strings.TrimSpace(line), ";") {
			continue
		}
		code := strings.TrimSpace(chunk.String())
		chunk.Reset()
		if code == "exit;" || code == "quit;" {
			return nil
		}
		if err := eval(code); err != nil {
			return err
		}
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	}
	return fmt.Sprintf("%v", v)
}
