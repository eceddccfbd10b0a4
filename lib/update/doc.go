// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package update is the self-update orchestrator: it drives one update
// job at a time from fetch (or staged upload) through verification, the
// atomic version swap, and the post-restart health check, rolling back
// automatically when the new version proves unhealthy.
//
// # Job lifecycle
//
// A network update moves
//
//	pending → fetching → verifying → swapping → health_checking → success
//
// An offline upload is verified when it is committed and enters the
// machine at swapping (its record still shows receiving and verifying).
// An explicit rollback goes pending → swapping → health_checking.
// Every job can end in error from any non-terminal state; a failed
// health check instead ends in rolled_back after the previous version
// has been reactivated. Transitions only move forward and terminal
// states never change.
//
// At most one job is non-terminal. Starting another while one is
// active fails with [fault.Conflict]; nothing is queued.
//
// # Restart and health
//
// After swapping, the orchestrator writes an activation journal
// ([watchdog.State]) and hands a restart intent to the [Supervisor].
// The supervisor either reports the health outcome directly (a self-check
// of the new binary) or restarts the process, in which case the next
// process resolves the outcome from the journal in [Orchestrator.Recover].
// No report within the health timeout counts as a failure.
//
// # Authorization
//
// Jobs run asynchronously, long after the request that started them
// was authorized. Each job carries a guard which re-checks the caller's
// permission immediately before swapping; a caller revoked mid-job
// fails the job with [fault.PermissionDenied] and nothing is activated.
package update
