// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package activation manages installed versions on disk and the single
// indirection that selects the active one.
//
// The install root looks like:
//
//	<root>/versions/1.3.0/puppyagent
//	<root>/versions/1.4.0/puppyagent
//	<root>/current -> versions/1.4.0
//
// A release tarball is unpacked into a fresh temporary directory under
// versions/ and renamed into place only once fully written, so a
// version directory is never observed half-extracted. Activation
// creates a new relative symlink beside current and renames it over
// current: rename(2) replaces the link atomically, so every reader sees
// either the old target or the new one. The running binary is never
// overwritten in place.
//
// Unpacking accepts only regular files and directories with relative
// paths that stay inside the version directory; anything else
// (absolute paths, "..", symlinks, devices) rejects the whole archive.
package activation
