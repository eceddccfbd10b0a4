// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// These variables are set via -ldflags at build time.
var (
	// Version is the semantic version of the release.
	Version = "0.0.0-dev"

	// GitCommit is the short git SHA of the build. When not injected
	// it is read from the module build info.
	GitCommit = ""

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// ReleaseKey is the base64 Ed25519 public key release artifacts
	// must be signed with. update.public_key overrides it.
	ReleaseKey = ""
)

var commitOnce = sync.OnceValue(func() string {
	if GitCommit != "" {
		return GitCommit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	revision, dirty := "", false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if revision == "" {
		return "unknown"
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if dirty {
		revision += "-dirty"
	}
	return revision
})

// Commit returns the git commit of the build.
func Commit() string {
	return commitOnce()
}

// Target returns the build platform as "<os>-<arch>", the form used in
// release asset names.
func Target() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// Info returns a formatted version string suitable for --version output.
func Info() string {
	return fmt.Sprintf("%s (%s, %s)", Version, Commit(), BuildTime)
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s", Info(), runtime.Version(), Target())
}
