// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Intent asks a supervisor to run a newly activated version.
type Intent struct {
	JobID   string
	Kind    string
	Version string

	// Previous is the version that was running before the swap.
	Previous string

	// Binary is the executable to run. It resolves through the current
	// version link, so it already names the new version.
	Binary string
}

// ReportFunc delivers a health outcome for an intent.
type ReportFunc func(healthy bool, message string)

// Supervisor performs process replacement for a swapped version.
//
// Restart returns once the intent has been handed off. A supervisor
// that can observe the new version's health calls report, at most once,
// possibly before Restart returns. A supervisor that replaces the
// current process never calls report; the next process resolves the
// outcome from the activation journal. A nil report means the outcome
// is not wanted.
type Supervisor interface {
	Restart(ctx context.Context, intent Intent, report ReportFunc) error
}

// ExecSupervisor replaces the running process with the new binary,
// keeping arguments and environment. Restart only returns on failure.
type ExecSupervisor struct {
	// Args are passed after the binary path. Defaults to os.Args[1:].
	Args []string

	// Exec defaults to syscall.Exec. Tests substitute it.
	Exec func(path string, argv []string, env []string) error

	Logger *slog.Logger
}

func (s *ExecSupervisor) Restart(_ context.Context, intent Intent, _ ReportFunc) error {
	args := s.Args
	if args == nil {
		args = os.Args[1:]
	}
	execFunction := s.Exec
	if execFunction == nil {
		execFunction = syscall.Exec
	}
	if s.Logger != nil {
		s.Logger.Info("exec'ing activated binary",
			"job_id", intent.JobID,
			"version", intent.Version,
			"binary", intent.Binary,
		)
	}
	argv := append([]string{intent.Binary}, args...)
	if err := execFunction(intent.Binary, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", intent.Binary, err)
	}
	return nil
}

// CommandSupervisor runs an operator-supplied command (for example
// "systemctl restart puppyagent") that restarts the service from the
// current version link. The intent is passed in the environment as
// PUPPYAGENT_JOB_ID, PUPPYAGENT_VERSION, PUPPYAGENT_PREVIOUS_VERSION,
// and PUPPYAGENT_BINARY.
type CommandSupervisor struct {
	Command []string
	Timeout time.Duration
}

func (s *CommandSupervisor) Restart(ctx context.Context, intent Intent, _ ReportFunc) error {
	if len(s.Command) == 0 {
		return fmt.Errorf("restart command is empty")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	command.Env = append(os.Environ(),
		"PUPPYAGENT_JOB_ID="+intent.JobID,
		"PUPPYAGENT_VERSION="+intent.Version,
		"PUPPYAGENT_PREVIOUS_VERSION="+intent.Previous,
		"PUPPYAGENT_BINARY="+intent.Binary,
	)
	var output bytes.Buffer
	command.Stdout = &output
	command.Stderr = &output
	if err := command.Run(); err != nil {
		return fmt.Errorf("restart command %q: %w: %s", strings.Join(s.Command, " "), err, strings.TrimSpace(output.String()))
	}
	return nil
}

// SelfCheckSupervisor does not restart anything. It runs the new binary's
// self-check ("version --check") and reports the result, which is what
// a one-shot CLI update needs.
type SelfCheckSupervisor struct {
	// Args default to ["version", "--check"].
	Args    []string
	Timeout time.Duration
}

func (s *SelfCheckSupervisor) Restart(ctx context.Context, intent Intent, report ReportFunc) error {
	args := s.Args
	if len(args) == 0 {
		args = []string{"version", "--check"}
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, intent.Binary, args...).CombinedOutput()
	if report == nil {
		return nil
	}
	text := strings.TrimSpace(string(output))
	switch {
	case err != nil:
		report(false, fmt.Sprintf("self-check of %s failed: %v: %s", intent.Version, err, text))
	case !strings.Contains(text, intent.Version):
		report(false, fmt.Sprintf("self-check of %s reported %q", intent.Version, text))
	default:
		report(true, "self-check passed")
	}
	return nil
}
