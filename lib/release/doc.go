// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package release discovers and downloads PuppyAgent releases.
//
// A release is a GitHub release whose tag is a semantic version and
// which carries, for each supported target, three assets:
//
//	puppyagent-<target>-<version>.tar.gz
//	puppyagent-<target>-<version>.tar.gz.sha256
//	puppyagent-<target>-<version>.tar.gz.sig
//
// <version> is the tag without a leading "v". <target> is
// "<GOOS>-<GOARCH>" unless configured otherwise.
//
// Channel resolution orders tags by semantic version rather than by
// publication date. The stable channel skips prereleases, both those
// flagged on GitHub and those whose version carries a prerelease
// suffix; the prerelease channel considers everything except drafts.
// Releases missing any of the three assets for the configured target
// are skipped.
package release
