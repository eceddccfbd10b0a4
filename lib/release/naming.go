// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package release

import (
	"fmt"
	"runtime"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/puppypeer/puppyagent/lib/fault"
)

// Sidecar suffixes appended to the tarball asset name.
const (
	ChecksumSuffix  = ".sha256"
	SignatureSuffix = ".sig"
)

// Channel selects which releases are candidates for "latest".
type Channel string

const (
	Stable     Channel = "stable"
	Prerelease Channel = "prerelease"
)

// ParseChannel accepts "stable", "prerelease", or "" (stable).
func ParseChannel(text string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(text))) {
	case "", Stable:
		return Stable, nil
	case Prerelease:
		return Prerelease, nil
	}
	return "", fault.New(fault.Validation, "unknown release channel %q (want stable or prerelease)", text)
}

// DefaultTarget is the target of the running binary.
func DefaultTarget() string {
	return runtime.GOOS + "-" + runtime.GOARCH
}

// AssetName returns the tarball asset name for target and version.
func AssetName(target, version string) string {
	return fmt.Sprintf("puppyagent-%s-%s.tar.gz", target, strings.TrimPrefix(version, "v"))
}

// ParseVersion parses a tag or version string, with or without a
// leading "v".
func ParseVersion(text string) (*goversion.Version, error) {
	parsed, err := goversion.NewSemver(strings.TrimPrefix(strings.TrimSpace(text), "v"))
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, "invalid version %q", text)
	}
	return parsed, nil
}

// Canonical renders text as a version without a leading "v". Text that
// does not parse is returned trimmed.
func Canonical(text string) string {
	parsed, err := ParseVersion(text)
	if err != nil {
		return strings.TrimPrefix(strings.TrimSpace(text), "v")
	}
	return parsed.String()
}

// Newer reports whether candidate is a strictly greater version than
// current. An unparseable current version (such as a development
// build) is older than any release.
func Newer(candidate, current string) bool {
	candidateVersion, err := ParseVersion(candidate)
	if err != nil {
		return false
	}
	currentVersion, err := ParseVersion(current)
	if err != nil {
		return true
	}
	return candidateVersion.GreaterThan(currentVersion)
}

// Same reports whether a and b name the same version.
func Same(a, b string) bool {
	aVersion, errA := ParseVersion(a)
	bVersion, errB := ParseVersion(b)
	if errA != nil || errB != nil {
		return strings.TrimPrefix(a, "v") == strings.TrimPrefix(b, "v")
	}
	return aVersion.Equal(bVersion)
}
