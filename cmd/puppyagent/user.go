// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/puppypeer/puppyagent/cmd/puppyagent/cli"
	"github.com/puppypeer/puppyagent/lib/grant"
	"github.com/puppypeer/puppyagent/lib/identity"
)

func (a *app) userCommand() *cli.Command {
	return &cli.Command{
		Name:    "user",
		Summary: "manage local accounts",
		Subcommands: []*cli.Command{
			a.userAddCommand(),
			a.userListCommand(),
		},
	}
}

func (a *app) userAddCommand() *cli.Command {
	var (
		roles         []string
		passwordStdin bool
	)
	return &cli.Command{
		Name:    "add",
		Summary: "create an account",
		Description: `Create an account directly in the identity database.

The first account ever created becomes the owner regardless of --role;
this is how a fresh host is bootstrapped. Later accounts receive only
the grants implied by their roles.`,
		Usage: "puppyagent user add <username> [--role NAME]... [--password-stdin]",
		Examples: []cli.Example{
			{Description: "Bootstrap the owner account interactively", Command: "puppyagent user add alice"},
			{Description: "Add a viewer from a script", Command: "printf '%s\\n' \"$PASSWORD\" | puppyagent user add bob --role viewer --password-stdin"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("add", pflag.ContinueOnError)
			flags.StringSliceVar(&roles, "role", nil, "role to assign (owner, viewer); repeatable")
			flags.BoolVar(&passwordStdin, "password-stdin", false, "read the password from the first line of stdin")
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one username, got %d arguments", len(args))
			}
			return a.userAdd(ctx, args[0], roles, passwordStdin)
		},
	}
}

func (a *app) userAdd(ctx context.Context, username string, roles []string, passwordStdin bool) error {
	if err := identity.ValidateUsername(username); err != nil {
		return err
	}
	var (
		password string
		err      error
	)
	if passwordStdin {
		password, err = cli.ReadPasswordLine(a.stdin)
	} else {
		password, err = cli.ReadPassword(a.stdin, a.stderr)
	}
	if err != nil {
		return err
	}

	store, err := a.openIdentity(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	user, bootstrap, err := store.CreateUser(ctx, identity.NewUser{
		Username: username,
		Password: password,
		Roles:    roles,
	})
	if err != nil {
		return err
	}
	if bootstrap {
		fmt.Fprintf(a.stdout, "created %s as the owner of this host\n", user.Username)
		return nil
	}
	fmt.Fprintf(a.stdout, "created %s (roles: %s)\n", user.Username, formatRoles(user.Roles))
	return nil
}

func (a *app) userListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Summary: "list accounts and their grants",
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("list takes no arguments, got %q", args)
			}
			store, err := a.openIdentity(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			users, err := store.ListUsers(ctx)
			if err != nil {
				return err
			}
			for _, user := range users {
				fmt.Fprintf(a.stdout, "%s\troles=%s\tgrants=%s\n", user.Username, formatRoles(user.Roles), formatGrants(user.Grants))
			}
			return nil
		},
	}
}

// openIdentity opens the identity database named by the configuration.
// SQLite serializes writers, so this is safe while serve is running.
func (a *app) openIdentity(ctx context.Context) (*identity.Store, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := a.logger(cfg, "")
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return identity.Open(ctx, identity.Config{Path: cfg.IdentityDB(), Logger: logger})
}

func formatRoles(roles []string) string {
	if len(roles) == 0 {
		return "-"
	}
	return strings.Join(roles, ",")
}

func formatGrants(grants []grant.Grant) string {
	if len(grants) == 0 {
		return "-"
	}
	parts := make([]string, len(grants))
	for i, g := range grants {
		parts[i] = g.String()
	}
	return strings.Join(parts, ",")
}
