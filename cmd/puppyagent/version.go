// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/puppypeer/puppyagent/cmd/puppyagent/cli"
	"github.com/puppypeer/puppyagent/lib/version"
)

func (a *app) versionCommand() *cli.Command {
	var (
		check bool
		full  bool
	)
	return &cli.Command{
		Name:    "version",
		Summary: "print the version",
		Description: `Print the version of this binary.

With --check the binary also validates its configuration before
printing, so a freshly installed version can be checked for basic health
after an update.`,
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flags.BoolVar(&check, "check", false, "validate the configuration before printing")
			flags.BoolVar(&full, "full", false, "include build time")
			return flags
		},
		Run: func(_ context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("version takes no arguments, got %q", args)
			}
			if check {
				if _, err := a.loadConfig(); err != nil {
					return err
				}
			}
			if full {
				fmt.Fprintln(a.stdout, version.Full())
			} else {
				fmt.Fprintln(a.stdout, version.Info())
			}
			return nil
		},
	}
}
