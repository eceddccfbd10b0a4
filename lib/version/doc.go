// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build information for the puppyagent
// binary.
//
// [Version], [GitCommit], [BuildTime], and [ReleaseKey] are injected at
// build time, for example:
//
//	go build -ldflags "-X github.com/puppypeer/puppyagent/lib/version.Version=1.4.0 \
//	  -X github.com/puppypeer/puppyagent/lib/version.ReleaseKey=$(cat release-signing-key.pub)"
//
// A development build reports 0.0.0-dev, takes its commit from the
// module build info, and has no built-in release key.
package version
