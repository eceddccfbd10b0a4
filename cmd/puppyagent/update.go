// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/puppypeer/puppyagent/cmd/puppyagent/cli"
	"github.com/puppypeer/puppyagent/lib/authorization"
	"github.com/puppypeer/puppyagent/lib/metrics"
	"github.com/puppypeer/puppyagent/lib/statelock"
	"github.com/puppypeer/puppyagent/lib/update"
)

// exitRolledBack is returned when the new version failed its
// self-check and the previous version was restored.
const exitRolledBack = 2

func (a *app) updateCommand() *cli.Command {
	var (
		target  string
		channel string
		force   bool
	)
	return &cli.Command{
		Name:    "update",
		Summary: "install a release from GitHub",
		Description: `Fetch, verify, and activate a release without a running control plane.

The release is verified against the release public key, unpacked beside
the current version, and activated by swapping the current link. The new
binary is then run with "version --check"; if it does not report the
expected version the previous version is restored and the command exits
with status 2.

The command refuses to run while "puppyagent serve" holds the state
directory; use the control plane's UpdateVersion request instead.`,
		Usage: "puppyagent update [--version TAG] [--channel NAME] [--force]",
		Examples: []cli.Example{
			{Description: "Install the latest stable release", Command: "puppyagent update"},
			{Description: "Reinstall or downgrade to a specific tag", Command: "puppyagent update --version v1.4.2 --force"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("update", pflag.ContinueOnError)
			flags.StringVar(&target, "version", "", "release tag to install (default: latest on the channel)")
			flags.StringVar(&channel, "channel", "", "release channel: stable or prerelease")
			flags.BoolVar(&force, "force", false, "allow reinstalling or downgrading")
			return flags
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("update takes no arguments, got %q", args)
			}
			return a.update(ctx, update.Request{Version: target, Channel: channel, Force: force})
		},
	}
}

func (a *app) update(ctx context.Context, request update.Request) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger, err := a.logger(cfg, "")
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	lock, err := statelock.Acquire(cfg.LockPath())
	if err != nil {
		return err
	}
	defer lock.Release()

	updates, err := newUpdater(cfg, &update.SelfCheckSupervisor{}, logger, metrics.Noop{})
	if err != nil {
		return err
	}
	defer updates.orchestrator.Close()

	snapshot, err := updates.orchestrator.UpdateVersion(ctx, request, authorization.AllowAll)
	if err != nil {
		return err
	}
	done, err := updates.orchestrator.Done(snapshot.ID)
	if err != nil {
		return err
	}

	final, err := a.follow(ctx, updates.orchestrator, snapshot.ID, done)
	if err != nil {
		return err
	}
	switch final.Status {
	case update.Success:
		fmt.Fprintf(a.stdout, "updated %s -> %s\n", final.PreviousVersion, final.Target)
		if removed, err := updates.layout.Prune(); err != nil {
			logger.Warn("pruning old versions failed", "error", err)
		} else if len(removed) > 0 {
			logger.Info("pruned old versions", "versions", removed)
		}
		return nil
	case update.RolledBack:
		fmt.Fprintf(a.stdout, "%s failed its self-check; restored %s: %s\n", final.Target, final.PreviousVersion, final.Message)
		return &cli.ExitError{Code: exitRolledBack}
	}
	return fmt.Errorf("update %s failed: %s: %s", final.ID, final.Fault, final.Message)
}

// follow prints each status change of the job until it finishes or
// ctx is cancelled.
func (a *app) follow(ctx context.Context, orchestrator *update.Orchestrator, id string, done <-chan struct{}) (update.Snapshot, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var last update.Status
	for {
		snapshot, err := orchestrator.Status(id)
		if err != nil {
			return update.Snapshot{}, err
		}
		if snapshot.Status != last {
			printProgress(a.stdout, snapshot)
			last = snapshot.Status
		}
		if snapshot.Status.Terminal() {
			return snapshot, nil
		}
		select {
		case <-done:
		case <-ticker.C:
		case <-ctx.Done():
			return snapshot, ctx.Err()
		}
	}
}

func printProgress(w io.Writer, snapshot update.Snapshot) {
	switch snapshot.Status {
	case update.Fetching:
		fmt.Fprintf(w, "fetching %s\n", snapshot.Target)
	case update.Verifying:
		fmt.Fprintf(w, "verifying %s (%d bytes)\n", snapshot.Target, snapshot.BytesFetched)
	case update.Swapping:
		fmt.Fprintf(w, "activating %s\n", snapshot.Target)
	case update.HealthChecking:
		fmt.Fprintf(w, "checking %s\n", snapshot.Target)
	case update.Pending:
	default:
		fmt.Fprintf(w, "%s\n", snapshot.Status)
	}
}
