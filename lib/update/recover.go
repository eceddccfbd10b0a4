// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package update

import (
	"fmt"

	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/release"
	"github.com/puppypeer/puppyagent/lib/watchdog"
)

// Recover resolves an activation journal left by a previous process.
// It must run before the control plane accepts requests. runningVersion
// is this process's version; selfCheck reports whether it is healthy.
//
// The outcomes are:
//   - running the journaled new version with a passing self-check:
//     the job ends in success
//   - running the new version with a failing self-check: the previous
//     version is reactivated, the job ends rolled back, and the
//     supervisor restarts into the previous version
//   - running the previous version: the new version never came up, so
//     the previous version is reactivated and the job ends rolled back
//   - a rollback journal: the job ends rolled back
//
// Any other journal is stale and is cleared. Recover reports false when
// there was nothing to resolve.
func (o *Orchestrator) Recover(runningVersion string, selfCheck func() error) (Snapshot, bool, error) {
	state, found, err := watchdog.Check(o.journalPath, o.journalMaxAge, o.clock.Now())
	if err != nil {
		o.logger.Warn("unreadable activation journal, clearing", "error", err)
		o.clearJournal()
		return Snapshot{}, false, nil
	}
	if !found {
		o.clearJournal()
		return Snapshot{}, false, nil
	}

	j := o.recoveredJob(state)
	switch {
	case state.Kind == journalRolledBack:
		o.markUnhealthy(state.PreviousVersion, "")
		o.clearJournal()
		o.finish(j, RolledBack, fmt.Sprintf("%s unhealthy, restored %s", state.PreviousVersion, state.NewVersion), nil)

	case release.Same(runningVersion, state.NewVersion):
		if selfCheck != nil {
			if checkErr := selfCheck(); checkErr != nil {
				o.logger.Error("self-check failed after activation", "job_id", state.JobID, "version", state.NewVersion, "error", checkErr)
				o.markUnhealthy(state.NewVersion, checkErr.Error())
				if j.snapshot.Kind == KindRollback {
					o.restore(state.PreviousVersion)
					o.clearJournal()
					o.finish(j, Error, "", fault.Wrap(fault.InternalIO, checkErr, "rollback to %s unhealthy", state.NewVersion))
					break
				}
				o.rollBack(j, state.NewVersion, state.PreviousVersion, checkErr.Error())
				break
			}
		}
		o.clearJournal()
		o.markHealthy(state.NewVersion)
		o.finish(j, Success, fmt.Sprintf("running %s", state.NewVersion), nil)

	case state.PreviousVersion != "" && release.Same(runningVersion, state.PreviousVersion):
		o.markUnhealthy(state.NewVersion, "did not start")
		o.restore(state.PreviousVersion)
		o.clearJournal()
		if j.snapshot.Kind == KindRollback {
			o.finish(j, Error, "", fault.New(fault.InternalIO, "rollback to %s did not start", state.NewVersion))
			break
		}
		o.finish(j, RolledBack, fmt.Sprintf("%s did not start, restored %s", state.NewVersion, state.PreviousVersion), nil)

	default:
		o.logger.Warn("activation journal does not match running version, clearing",
			"job_id", state.JobID, "running", runningVersion, "journal_new", state.NewVersion)
		o.clearJournal()
		o.drop(j)
		return Snapshot{}, false, nil
	}
	return j.view(), true, nil
}

// recoveredJob rebuilds a job in health_checking from a journal.
func (o *Orchestrator) recoveredJob(state watchdog.State) *job {
	kind := Kind(state.Kind)
	target, previous := state.NewVersion, state.PreviousVersion
	if state.Kind == journalRolledBack {
		kind = KindUpdate
		target, previous = state.PreviousVersion, state.NewVersion
	}
	j := newJob(state.JobID, kind, state.StartedAt)
	j.set(func(s *Snapshot) {
		s.Target = target
		s.PreviousVersion = previous
	})
	j.transition(Swapping, state.Timestamp, "")
	j.transition(HealthChecking, state.Timestamp, fmt.Sprintf("restarting into %s", state.NewVersion))

	o.mu.Lock()
	o.jobs[j.snapshot.ID] = j
	if o.active == nil {
		o.active = j
	}
	o.mu.Unlock()
	return j
}
