// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog records an in-flight version activation so its
// outcome survives the restart it causes.
//
// The update orchestrator writes a [State] after repointing the
// current-version indirection and before asking the supervisor to
// restart. On startup the daemon reads the state back:
//
//   - running the new version and passing its self-check means the
//     update succeeded;
//   - running the previous version means the supervisor gave up on the
//     new one, so the update failed its health check and was rolled
//     back.
//
// Either way the daemon records the outcome and calls [Clear]. The file
// is CBOR, written atomically (temporary file, fsync, rename, fsync of
// the parent directory) so a reader never sees a partial state. [Check]
// ignores states older than a maximum age so an ancient file left by an
// unrelated restart is not acted on.
package watchdog
