// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash computes and formats SHA-256 digests of release
// artifacts and installed binaries. Digests travel as lowercase hex
// (the .sha256 sidecar, BeginUploadUpdate, the activation journal).
package binhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Digest is a SHA-256 digest.
type Digest [sha256.Size]byte

// String returns the lowercase hex encoding.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Sum returns the digest of data.
func Sum(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// HashReader streams r through SHA-256 and returns the digest and the
// number of bytes read.
func HashReader(r io.Reader) (Digest, int64, error) {
	hasher := sha256.New()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return Digest{}, n, err
	}
	return Digest(hasher.Sum(nil)), n, nil
}

// HashFile streams the file at path through SHA-256.
func HashFile(path string) (Digest, error) {
	file, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	digest, _, err := HashReader(file)
	if err != nil {
		return Digest{}, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, nil
}

// ParseDigest parses a 64-character hex digest. Surrounding whitespace
// is ignored and upper-case hex is accepted.
func ParseDigest(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return digest, fmt.Errorf("parsing sha256 digest: %w", err)
	}
	if len(decoded) != len(digest) {
		return digest, fmt.Errorf("sha256 digest is %d bytes, want %d", len(decoded), len(digest))
	}
	copy(digest[:], decoded)
	return digest, nil
}
