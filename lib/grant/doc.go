// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package grant defines the permission vocabulary shared by the
// identity store, the permission evaluator, and the data plane.
//
// A [Grant] is a tagged variant: one of Owner, SoftwareUpdate, Viewer,
// SystemInfo, DiskInfo, NetworkInfo, or Files{path, access}. Grants are
// comparable values, so a grant set can be deduplicated and used as a
// map key. [Normalize] produces the canonical ordered form stored by
// the identity store and returned on the wire.
//
// A [Capability] is what a single request needs: an [Operation] plus,
// for file operations, the requested path. [Covers] answers whether a
// grant set satisfies a capability:
//
//   - Owner satisfies everything.
//   - File metadata operations (ListDir, StatFile) accept Viewer or any
//     Files grant whose path covers the request.
//   - ReadFile needs a Files grant with Read or ReadWrite access;
//     WriteFile needs ReadWrite.
//   - ListCpus, ListDisks, and ListInterfaces accept the matching
//     SystemInfo, DiskInfo, or NetworkInfo grant, or Viewer.
//   - Update operations need SoftwareUpdate.
//   - User management has no grant of its own; only Owner satisfies it.
//
// [Issuable] is the narrower rule used when a subject issues a token:
// a token grant must not let its holder do anything the issuer cannot.
//
// Path matching is segment-aware: a grant on "/data" covers "/data"
// and "/data/x" but not "/database". A grant path of "", "/", or "*"
// covers every path. Backslashes are treated as separators.
package grant
