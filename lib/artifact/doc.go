// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact verifies and produces signed release tarballs.
//
// A release asset is trusted only if two independent checks pass:
//
//   - its SHA-256 equals the declared digest (from the .sha256 sidecar
//     on the network path, or from BeginUploadUpdate on the upload
//     path), and
//   - a detached Ed25519 signature over the raw tarball bytes verifies
//     against the release public key.
//
// The checksum is compared first so a truncated or corrupted transfer
// is reported as [fault.ChecksumMismatch] rather than as a signature
// failure. Both checks run over the same bytes read once from disk.
//
// The package also produces the sidecars ([SignFile]) and manages the
// signing keypair ([GenerateKeypair], [SaveKeypair]) used by the
// keygen and sign commands.
package artifact
