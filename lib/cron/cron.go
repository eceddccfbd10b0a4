// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	cronlib "github.com/robfig/cron/v3"
)

var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Validate reports whether spec is an acceptable schedule.
func Validate(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("cron: invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Scheduler runs named jobs on schedules. Add every job before Start.
type Scheduler struct {
	logger *slog.Logger
	engine *cronlib.Cron

	mu      sync.Mutex
	names   map[cronlib.EntryID]string
	started bool
}

// New returns a stopped Scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	adapter := slogAdapter{logger: logger}
	return &Scheduler{
		logger: logger,
		engine: cronlib.New(
			cronlib.WithParser(parser),
			cronlib.WithLogger(adapter),
			cronlib.WithChain(jobWrappers(adapter)...),
		),
		names: make(map[cronlib.EntryID]string),
	}
}

// jobWrappers is the middleware applied to every job, outermost first.
// Recover must sit inside SkipIfStillRunning: a panic unwinding through
// the skip wrapper would never return its run token, and every later
// tick would be skipped.
func jobWrappers(logger cronlib.Logger) []cronlib.JobWrapper {
	return []cronlib.JobWrapper{
		cronlib.SkipIfStillRunning(logger),
		cronlib.Recover(logger),
	}
}

// Add registers job to run on spec.
func (s *Scheduler) Add(name, spec string, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("cron: cannot add %q after Start", name)
	}
	id, err := s.engine.AddFunc(spec, job)
	if err != nil {
		return fmt.Errorf("cron: job %q: invalid schedule %q: %w", name, spec, err)
	}
	s.names[id] = name
	s.logger.Debug("scheduled job", "job", name, "schedule", spec)
	return nil
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.names))
	for _, entry := range s.engine.Entries() {
		names = append(names, s.names[entry.ID])
	}
	return names
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.engine.Start()
}

// Stop halts the scheduler and waits for running jobs to finish or ctx
// to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.engine.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// slogAdapter satisfies cronlib.Logger. The library's Info chatter
// (every wake and run) goes to Debug.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug("cron: "+msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
