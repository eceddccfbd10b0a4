// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"crypto/ed25519"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/puppypeer/puppyagent/lib/binhash"
	"github.com/puppypeer/puppyagent/lib/fault"
)

// Verifier checks release artifacts against one trusted public key.
type Verifier struct {
	publicKey ed25519.PublicKey

	// maxSize bounds how much of a file is read into memory for
	// signature verification. Zero means no bound.
	maxSize int64
}

// NewVerifier returns a Verifier trusting publicKey.
func NewVerifier(publicKey ed25519.PublicKey, maxSize int64) (*Verifier, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("release public key has %d bytes, want %d", len(publicKey), ed25519.PublicKeySize)
	}
	return &Verifier{publicKey: publicKey, maxSize: maxSize}, nil
}

// Verify checks data against the expected digest and signature.
func (v *Verifier) Verify(data []byte, expected binhash.Digest, signature []byte) error {
	actual := binhash.Sum(data)
	if subtle.ConstantTimeCompare(actual[:], expected[:]) != 1 {
		return fault.New(fault.ChecksumMismatch, "artifact sha256 is %s, expected %s", actual, expected)
	}
	if len(signature) != ed25519.SignatureSize {
		return fault.New(fault.SignatureInvalid, "signature has %d bytes, want %d", len(signature), ed25519.SignatureSize)
	}
	if !ed25519.Verify(v.publicKey, data, signature) {
		return fault.New(fault.SignatureInvalid, "signature does not verify against the release key")
	}
	return nil
}

// VerifyFile reads the file at path and verifies it. The file is left
// in place either way; callers discard rejected artifacts.
func (v *Verifier) VerifyFile(path string, expected binhash.Digest, signature []byte) error {
	data, err := v.readBounded(path)
	if err != nil {
		return err
	}
	return v.Verify(data, expected, signature)
}

func (v *Verifier) readBounded(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(fault.InternalIO, err, "opening artifact %s", filepath.Base(path))
	}
	defer file.Close()

	var reader io.Reader = file
	if v.maxSize > 0 {
		reader = io.LimitReader(file, v.maxSize+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fault.Wrap(fault.InternalIO, err, "reading artifact %s", filepath.Base(path))
	}
	if v.maxSize > 0 && int64(len(data)) > v.maxSize {
		return nil, fault.New(fault.Validation, "artifact exceeds %d bytes", v.maxSize)
	}
	return data, nil
}

// SignFile signs the file at path and writes path.sha256 and path.sig
// beside it. The signature sidecar is base64 text.
func SignFile(private ed25519.PrivateKey, path string) (binhash.Digest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return binhash.Digest{}, fmt.Errorf("reading %s: %w", path, err)
	}
	digest := binhash.Sum(data)
	signature := ed25519.Sign(private, data)

	if err := os.WriteFile(path+".sha256", FormatChecksum(digest, filepath.Base(path)), 0o644); err != nil {
		return binhash.Digest{}, fmt.Errorf("writing checksum sidecar: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(signature) + "\n"
	if err := os.WriteFile(path+".sig", []byte(encoded), 0o644); err != nil {
		return binhash.Digest{}, fmt.Errorf("writing signature sidecar: %w", err)
	}
	return digest, nil
}
