// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the binary entrypoint's exit handling: the one
// place that writes raw text to stderr, since it runs after the
// structured logger is gone or before it exists.
package process
