// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package authorization is the permission evaluator. It answers one
// question for every request: may this session perform this
// capability right now?
//
// Resolution order:
//
//  1. If the identity store has no users, permit (open bootstrap
//     mode).
//  2. Otherwise a session is required; a missing, unknown, expired,
//     or revoked session is an authentication failure.
//  3. The session's grants are resolved live through the session
//     manager, which reads the identity store. Nothing is cached
//     between calls.
//  4. Owner permits everything; otherwise [grant.Covers] decides.
//
// Callers must evaluate immediately before the operation they guard.
// Long-running work (update jobs) takes a [Guard] and re-runs it after
// every suspension that precedes a mutation, so a revocation that
// lands while a download is in flight stops the job before it swaps.
//
// [Evaluator.Evaluate] returns a [Result] trace used for audit logs and
// metrics; [Evaluator.Authorize] converts a denial into a classified
// error for the dispatcher.
package authorization
