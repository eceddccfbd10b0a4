// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/release"
	"github.com/puppypeer/puppyagent/lib/watchdog"
)

// runFetch downloads and verifies a release, then swaps to it.
func (o *Orchestrator) runFetch(j *job, target release.Release, guard Guard) {
	ctx := o.ctx
	o.advance(j, Fetching, fmt.Sprintf("downloading %s", target.Tarball.Name))

	fetched, err := o.releases.Download(ctx, target, o.downloadDir, func(p release.Progress) {
		j.progress(p.Percent, p.Bytes, p.ETA, o.clock.Now())
	})
	if err != nil {
		o.finish(j, Error, "", classify(err, fault.InternalIO, "downloading %s", target.Tarball.Name))
		return
	}
	defer os.Remove(fetched.Path)

	o.advance(j, Verifying, "")
	if err := o.verifier.VerifyFile(fetched.Path, fetched.SHA256, fetched.Signature); err != nil {
		o.finish(j, Error, "", err)
		return
	}
	o.runSwap(j, fetched.Path, target.Version, j.view().PreviousVersion, guard)
}

// checkGuard re-evaluates the caller's permission. Any failure is
// recorded as PermissionDenied.
func (o *Orchestrator) checkGuard(ctx context.Context, j *job, guard Guard) bool {
	if guard == nil {
		return true
	}
	err := guard(ctx)
	if err == nil {
		return true
	}
	if !errors.Is(err, fault.PermissionDenied) {
		err = fault.Wrap(fault.PermissionDenied, err, "permission revoked before swap")
	}
	o.finish(j, Error, "", err)
	return false
}

// runSwap installs a verified tarball, journals the activation, swaps
// the current link, and hands off to the supervisor.
func (o *Orchestrator) runSwap(j *job, tarball, version, previous string, guard Guard) {
	ctx := o.ctx
	if !o.checkGuard(ctx, j, guard) {
		return
	}
	o.advance(j, Swapping, fmt.Sprintf("installing %s", version))

	if err := o.installer.Install(ctx, tarball, version); err != nil {
		o.finish(j, Error, "", classify(err, fault.InternalIO, "installing %s", version))
		return
	}
	o.activateAndWait(j, version, previous)
}

// runRollback reactivates the previous version.
func (o *Orchestrator) runRollback(j *job, target string, guard Guard) {
	if !o.checkGuard(o.ctx, j, guard) {
		return
	}
	o.advance(j, Swapping, fmt.Sprintf("reactivating %s", target))
	o.activateAndWait(j, target, j.view().PreviousVersion)
}

// activateAndWait journals and performs the swap to version, restarts
// through the supervisor, and resolves the job from the health report.
func (o *Orchestrator) activateAndWait(j *job, version, previous string) {
	ctx := o.ctx
	snapshot := j.view()
	now := o.clock.Now()
	state := watchdog.State{
		JobID:           snapshot.ID,
		Kind:            string(snapshot.Kind),
		PreviousVersion: previous,
		NewVersion:      version,
		StartedAt:       snapshot.CreatedAt,
		Timestamp:       now,
	}
	if err := watchdog.Write(o.journalPath, state); err != nil {
		o.finish(j, Error, "", fault.Wrap(fault.InternalIO, err, "writing activation journal"))
		return
	}
	if _, err := o.installer.Activate(version); err != nil {
		o.clearJournal()
		o.finish(j, Error, "", classify(err, fault.InternalIO, "activating %s", version))
		return
	}
	o.advance(j, HealthChecking, fmt.Sprintf("restarting into %s", version))

	timer := o.clock.AfterFunc(o.healthTimeout, func() {
		select {
		case j.health <- healthReport{message: fmt.Sprintf("no health report within %s", o.healthTimeout)}:
		default:
		}
	})
	defer timer.Stop()

	intent := Intent{
		JobID:    snapshot.ID,
		Kind:     string(snapshot.Kind),
		Version:  version,
		Previous: previous,
		Binary:   o.installer.CurrentBinary(),
	}
	report := func(healthy bool, message string) {
		select {
		case j.health <- healthReport{healthy: healthy, message: message}:
		default:
		}
	}
	if err := o.supervisor.Restart(ctx, intent, report); err != nil {
		if ctx.Err() != nil {
			return
		}
		o.logger.Error("restart failed, reactivating previous version", "job_id", snapshot.ID, "version", version, "error", err)
		o.markUnhealthy(version, err.Error())
		o.restore(previous)
		o.clearJournal()
		o.finish(j, Error, "", fault.Wrap(fault.InternalIO, err, "restarting into %s", version))
		return
	}

	var outcome healthReport
	select {
	case outcome = <-j.health:
	case <-ctx.Done():
		// The journal stays; the next process resolves the job.
		return
	}

	if outcome.healthy {
		o.clearJournal()
		o.markHealthy(version)
		message := outcome.message
		if message == "" {
			message = fmt.Sprintf("running %s", version)
		}
		o.finish(j, Success, message, nil)
		return
	}

	o.logger.Warn("health check failed", "job_id", snapshot.ID, "version", version, "message", outcome.message)
	o.markUnhealthy(version, outcome.message)
	if snapshot.Kind == KindRollback {
		o.restore(previous)
		o.clearJournal()
		o.finish(j, Error, "", fault.New(fault.InternalIO, "rollback to %s unhealthy: %s", version, outcome.message))
		return
	}
	o.rollBack(j, version, previous, outcome.message)
}

// rollBack reverts an unhealthy activation to previous and restarts
// into it.
func (o *Orchestrator) rollBack(j *job, failed, previous, reason string) {
	if previous == "" || !o.installer.Installed(previous) {
		o.clearJournal()
		o.finish(j, Error, "", fault.New(fault.InternalIO, "%s unhealthy (%s) and no previous version to restore", failed, reason))
		return
	}
	if !o.restore(previous) {
		o.clearJournal()
		o.finish(j, Error, "", fault.New(fault.InternalIO, "%s unhealthy (%s) and reactivating %s failed", failed, reason, previous))
		return
	}

	snapshot := j.view()
	now := o.clock.Now()
	state := watchdog.State{
		JobID:           snapshot.ID,
		Kind:            journalRolledBack,
		PreviousVersion: failed,
		NewVersion:      previous,
		StartedAt:       snapshot.CreatedAt,
		Timestamp:       now,
	}
	if err := watchdog.Write(o.journalPath, state); err != nil {
		o.logger.Warn("writing rollback journal", "job_id", snapshot.ID, "error", err)
	}
	o.finish(j, RolledBack, fmt.Sprintf("%s unhealthy, restored %s: %s", failed, previous, reason), nil)

	intent := Intent{
		JobID:    snapshot.ID,
		Kind:     journalRolledBack,
		Version:  previous,
		Previous: failed,
		Binary:   o.installer.CurrentBinary(),
	}
	if err := o.supervisor.Restart(o.ctx, intent, nil); err != nil {
		o.logger.Error("restart into restored version failed", "job_id", snapshot.ID, "version", previous, "error", err)
	}
	o.clearJournal()
}

// restore points current back at version after a failed activation.
// It reports whether the swap happened.
func (o *Orchestrator) restore(version string) bool {
	if version == "" || !o.installer.Installed(version) {
		return false
	}
	if err := o.installer.Restore(version); err != nil {
		o.logger.Error("reactivating previous version", "version", version, "error", err)
		return false
	}
	return true
}

// markUnhealthy records a version that failed to come up so Rollback
// refuses to target it.
func (o *Orchestrator) markUnhealthy(version, reason string) {
	if version == "" {
		return
	}
	if reason == "" {
		reason = "health check failed"
	}
	o.mu.Lock()
	o.unhealthy[version] = reason
	o.mu.Unlock()
}

func (o *Orchestrator) markHealthy(version string) {
	o.mu.Lock()
	delete(o.unhealthy, version)
	o.mu.Unlock()
}

func (o *Orchestrator) clearJournal() {
	if err := watchdog.Clear(o.journalPath); err != nil {
		o.logger.Warn("clearing activation journal", "error", err)
	}
}
