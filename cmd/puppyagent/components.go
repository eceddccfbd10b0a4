// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/puppypeer/puppyagent/cmd/puppyagent/cli"
	"github.com/puppypeer/puppyagent/lib/activation"
	"github.com/puppypeer/puppyagent/lib/artifact"
	"github.com/puppypeer/puppyagent/lib/config"
	"github.com/puppypeer/puppyagent/lib/github"
	"github.com/puppypeer/puppyagent/lib/metrics"
	"github.com/puppypeer/puppyagent/lib/release"
	"github.com/puppypeer/puppyagent/lib/update"
	"github.com/puppypeer/puppyagent/lib/version"
)

// loadConfig resolves and validates the configuration.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Resolve(a.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// logger builds the process logger. format overrides log.format when
// the config leaves it empty.
func (a *app) logger(cfg *config.Config, format string) (*slog.Logger, error) {
	if cfg.Log.Format != "" {
		format = cfg.Log.Format
	}
	return cli.NewLogger(a.stderr, cfg.Log.Level, format)
}

// releaseKey returns the configured release public key, falling back to
// the one built into the binary.
func releaseKey(cfg *config.Config) (ed25519.PublicKey, error) {
	text := cfg.Update.PublicKey
	if text == "" {
		text = version.ReleaseKey
	}
	if text == "" {
		return nil, errors.New("no release public key: set update.public_key or build with a release key")
	}
	return artifact.ParsePublicKey(text)
}

type updater struct {
	orchestrator *update.Orchestrator
	layout       *activation.Layout
}

// newUpdater assembles the release source, verifier, install layout,
// and orchestrator around supervisor.
func newUpdater(cfg *config.Config, supervisor update.Supervisor, logger *slog.Logger, recorder metrics.Metrics) (*updater, error) {
	layout, err := activation.Open(cfg.Paths.InstallRoot, 4*cfg.Update.MaxArtifactSize, logger)
	if err != nil {
		return nil, err
	}
	key, err := releaseKey(cfg)
	if err != nil {
		return nil, err
	}
	verifier, err := artifact.NewVerifier(key, cfg.Update.MaxArtifactSize)
	if err != nil {
		return nil, err
	}
	client, err := github.NewClient(github.Config{
		BaseURL:   cfg.Update.APIURL,
		Token:     os.Getenv("GITHUB_TOKEN"),
		UserAgent: "puppyagent/" + version.Version,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	source, err := release.NewSource(release.Config{
		Client:     client,
		Repository: cfg.Update.Repository,
		Target:     cfg.Update.Target,
		MaxSize:    cfg.Update.MaxArtifactSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	orchestrator, err := update.New(update.Config{
		Releases:       source,
		Installer:      layout,
		Verifier:       verifier,
		Supervisor:     supervisor,
		RunningVersion: version.Version,
		DownloadDir:    cfg.DownloadDir(),
		JournalPath:    cfg.JournalPath(),
		HealthTimeout:  cfg.Update.HealthTimeout,
		Logger:         logger,
		Metrics:        recorder,
	})
	if err != nil {
		return nil, err
	}
	return &updater{orchestrator: orchestrator, layout: layout}, nil
}

// supervisorFor returns the restart strategy named by update.restart.
func supervisorFor(cfg *config.Config, logger *slog.Logger) update.Supervisor {
	switch cfg.Update.Restart {
	case config.RestartCommand:
		return &update.CommandSupervisor{Command: cfg.Update.RestartCommand}
	case config.RestartSelfCheck:
		return &update.SelfCheckSupervisor{}
	}
	return &update.ExecSupervisor{Logger: logger}
}
