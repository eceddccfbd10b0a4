// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package session authenticates callers and tracks live sessions.
//
// A session is process-local and holds only a reference to its
// subject: a username for credential sessions, a token id for token
// sessions. It never holds a copy of grants. [Manager.Resolve] reloads
// the subject from the identity store on every call and fails if the
// subject is gone, revoked, or expired, so a revocation is effective
// for the very next request without any cache invalidation.
//
// Lifetimes:
//
//   - credential sessions expire a fixed TTL after creation (one hour
//     by default);
//   - token sessions expire with their token, or never if the token
//     has no expiry;
//   - bootstrap sessions, issued while the identity store has no
//     users, stop resolving as soon as the first user exists.
//
// Expiry is checked lazily at access time. [Manager.Sweep] drops
// expired entries to reclaim memory but is not needed for correctness.
//
// Revocation propagates explicitly: [Manager.RevokeUser] deletes the
// user, collects the ids of the tokens deleted with them, and removes
// every session referencing the user or one of those tokens.
package session
