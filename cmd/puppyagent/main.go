// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// puppyagent is the remote host agent: it serves the control plane on a
// local socket and installs signed releases of itself.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/puppypeer/puppyagent/cmd/puppyagent/cli"
	"github.com/puppypeer/puppyagent/lib/process"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr})
	stop()
	process.Exit(err)
}

// app carries the global flags and standard streams into commands.
type app struct {
	configPath string

	stdin  *os.File
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, a *app) error {
	global := pflag.NewFlagSet("puppyagent", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(io.Discard)
	global.StringVar(&a.configPath, "config", "", "configuration file (default $PUPPYAGENT_CONFIG)")

	root := a.root(global)
	if err := global.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			root.PrintHelp(a.stderr)
			return nil
		}
		return err
	}
	return root.Execute(ctx, global.Args())
}

func (a *app) root(global *pflag.FlagSet) *cli.Command {
	return &cli.Command{
		Name:        "puppyagent",
		Description: "PuppyAgent host agent: control plane, accounts, and signed self-update.",
		Usage:       "puppyagent [--config FILE] <command> [flags]",
		Output:      a.stderr,
		Flags:       func() *pflag.FlagSet { return global },
		Subcommands: []*cli.Command{
			a.serveCommand(),
			a.updateCommand(),
			a.userCommand(),
			a.keygenCommand(),
			a.signCommand(),
			a.versionCommand(),
		},
	}
}
