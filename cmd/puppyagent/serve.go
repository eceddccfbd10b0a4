// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/puppypeer/puppyagent/cmd/puppyagent/cli"
	"github.com/puppypeer/puppyagent/lib/authorization"
	"github.com/puppypeer/puppyagent/lib/controlplane"
	"github.com/puppypeer/puppyagent/lib/cron"
	"github.com/puppypeer/puppyagent/lib/identity"
	"github.com/puppypeer/puppyagent/lib/metrics"
	"github.com/puppypeer/puppyagent/lib/service"
	"github.com/puppypeer/puppyagent/lib/session"
	"github.com/puppypeer/puppyagent/lib/staging"
	"github.com/puppypeer/puppyagent/lib/statelock"
	"github.com/puppypeer/puppyagent/lib/version"
)

func (a *app) serveCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Summary: "run the control plane",
		Description: `Run the control plane on the configured Unix socket.

On startup the activation journal is checked: an update that was in
progress when the previous process exited is resolved before the socket
opens. Idle upload sessions and expired sessions are swept on
upload.sweep_schedule, and Prometheus metrics are served on
metrics.listen when it is set.`,
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("serve takes no arguments, got %q", args)
			}
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger, err := a.logger(cfg, "json")
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

	logger.Info("starting puppyagent",
		"version", version.Version,
		"commit", version.Commit(),
		"target", cfg.Update.Target,
	)

	store, err := identity.Open(ctx, identity.Config{Path: cfg.IdentityDB(), Logger: logger})
	if err != nil {
		return err
	}
	defer store.Close()

	recorder := metrics.NewProm("puppyagent")
	sessions := session.NewManager(store, session.Config{
		Logger:        logger,
		CredentialTTL: cfg.Control.CredentialSessionTTL,
	})
	evaluator := authorization.New(store, sessions, logger)

	updates, err := newUpdater(cfg, supervisorFor(cfg, logger), logger, recorder)
	if err != nil {
		return err
	}
	defer updates.orchestrator.Close()

	selfCheck := func() error {
		_, err := store.UserCount(ctx)
		return err
	}
	if snapshot, recovered, err := updates.orchestrator.Recover(version.Version, selfCheck); err != nil {
		return fmt.Errorf("recovering activation: %w", err)
	} else if recovered {
		logger.Info("resolved interrupted update",
			"job_id", snapshot.ID,
			"status", snapshot.Status,
			"message", snapshot.Message,
		)
	}
	if removed, err := updates.layout.Prune(); err != nil {
		logger.Warn("pruning old versions failed", "error", err)
	} else if len(removed) > 0 {
		logger.Info("pruned old versions", "versions", removed)
	}

	uploads, err := staging.Open(staging.Config{
		Dir:         cfg.StagingDir(),
		IdleTimeout: cfg.Upload.IdleTimeout,
		MaxSize:     cfg.Upload.MaxSize,
		MaxChunk:    cfg.Upload.MaxChunk,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	dispatcher, err := controlplane.NewDispatcher(controlplane.Config{
		Identity:  store,
		Sessions:  sessions,
		Evaluator: evaluator,
		Updates:   updates.orchestrator,
		Uploads:   uploads,
		Version:   version.Version,
		Commit:    version.Commit(),
		Target:    cfg.Update.Target,
		Logger:    logger,
		Metrics:   recorder,
	})
	if err != nil {
		return err
	}

	scheduler := cron.New(logger)
	if cfg.Upload.SweepSchedule != "" {
		if err := scheduler.Add("sweep-uploads", cfg.Upload.SweepSchedule, func() {
			if expired := uploads.Sweep(); expired > 0 {
				logger.Info("expired idle uploads", "count", expired)
			}
		}); err != nil {
			return err
		}
		if err := scheduler.Add("sweep-sessions", cfg.Upload.SweepSchedule, func() {
			sessions.Sweep()
		}); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := scheduler.Stop(stopCtx); err != nil {
			logger.Warn("stopping scheduler", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsDone := make(chan error, 1)
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		server, err := service.NewHTTPServer(service.HTTPServerConfig{
			Address: cfg.Metrics.Listen,
			Handler: mux,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		go func() { metricsDone <- server.Serve(ctx) }()
	} else {
		close(metricsDone)
	}

	socket, err := service.NewSocketServer(service.SocketConfig{
		Path:           cfg.Control.SocketPath,
		Handler:        dispatcher,
		MaxRequestSize: int64(cfg.Upload.MaxChunk)*2 + 1<<20,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	serveErr := socket.Serve(ctx)
	cancel()
	metricsErr := <-metricsDone

	logger.Info("puppyagent stopped")
	return errors.Join(serveErr, metricsErr)
}
