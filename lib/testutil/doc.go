// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout safety valve so tests waiting on asynchronous
// update jobs do not each carry their own time.After. They are the only
// place tests use wall-clock timeouts; everything else runs on the fake
// clock.
//
// [SocketDir] returns a short directory in /tmp for Unix sockets,
// whose paths are limited to 108 bytes.
//
// [Tarball] and [SignedTarball] build release archives in the shape
// the update path expects.
//
// All helpers call t.Fatalf on failure.
package testutil
