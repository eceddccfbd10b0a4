// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small network I/O helpers shared by the release
// client and the control socket server.
package netutil
