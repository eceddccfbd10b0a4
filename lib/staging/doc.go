// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package staging holds update artifacts being pushed in chunks by a
// peer that cannot reach the release server.
//
// An upload session declares the artifact's size, SHA-256, and
// detached signature up front, then receives chunks. A chunk is
// accepted only if it starts exactly at the session's current offset;
// anything else fails with [fault.OffsetMismatch] and leaves the
// session untouched, so a client that lost an acknowledgement can
// re-query the offset ([Store.Status]) and resume.
//
// Locking is per upload. The registry lock is held only for map
// access; the per-upload lock is held while validating and committing
// offsets but never during file I/O. A chunk in flight claims its
// upload, and a concurrent chunk for the same upload fails with
// [fault.Conflict] instead of blocking.
//
// Sessions expire after a configurable idle window with no chunk.
// Expiry is checked lazily on every access; [Store.Sweep] additionally
// purges idle sessions to free disk.
//
// Once every byte has arrived, [Store.Take] hands the staged file to
// the caller (the update orchestrator), which verifies it and either
// activates or discards it.
package staging
