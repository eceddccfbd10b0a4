// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/puppypeer/puppyagent/lib/binhash"
	"github.com/puppypeer/puppyagent/lib/fault"
)

func newTestVerifier(t *testing.T) (*Verifier, ed25519.PrivateKey) {
	t.Helper()
	public, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	verifier, err := NewVerifier(public, 1<<20)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return verifier, private
}

func TestVerifyAcceptsSignedArtifact(t *testing.T) {
	verifier, private := newTestVerifier(t)
	data := []byte("tarball bytes")

	if err := verifier.Verify(data, binhash.Sum(data), ed25519.Sign(private, data)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyChecksumMismatch(t *testing.T) {
	verifier, private := newTestVerifier(t)
	data := []byte("tarball bytes")

	err := verifier.Verify(data, binhash.Sum([]byte("other")), ed25519.Sign(private, data))
	if !errors.Is(err, fault.ChecksumMismatch) {
		t.Fatalf("Verify = %v, want ChecksumMismatch", err)
	}
}

func TestVerifySignatureInvalid(t *testing.T) {
	verifier, _ := newTestVerifier(t)
	_, otherKey, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	data := []byte("tarball bytes")

	err = verifier.Verify(data, binhash.Sum(data), ed25519.Sign(otherKey, data))
	if !errors.Is(err, fault.SignatureInvalid) {
		t.Fatalf("Verify with foreign key = %v, want SignatureInvalid", err)
	}

	err = verifier.Verify(data, binhash.Sum(data), []byte("short"))
	if !errors.Is(err, fault.SignatureInvalid) {
		t.Fatalf("Verify with short signature = %v, want SignatureInvalid", err)
	}
}

func TestVerifyFileRespectsMaxSize(t *testing.T) {
	public, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	verifier, err := NewVerifier(public, 8)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	data := []byte("more than eight bytes")
	path := filepath.Join(t.TempDir(), "big.tar.gz")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	err = verifier.VerifyFile(path, binhash.Sum(data), ed25519.Sign(private, data))
	if !errors.Is(err, fault.Validation) {
		t.Fatalf("VerifyFile = %v, want Validation", err)
	}
}

func TestSignFileRoundTrip(t *testing.T) {
	verifier, private := newTestVerifier(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "puppyagent-linux-amd64-1.2.0.tar.gz")
	if err := os.WriteFile(path, []byte("release payload"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	digest, err := SignFile(private, path)
	if err != nil {
		t.Fatalf("SignFile: %v", err)
	}

	checksumData, err := os.ReadFile(path + ".sha256")
	if err != nil {
		t.Fatalf("reading checksum sidecar: %v", err)
	}
	parsed, err := ParseChecksum(checksumData, filepath.Base(path))
	if err != nil {
		t.Fatalf("ParseChecksum: %v", err)
	}
	if parsed != digest {
		t.Errorf("sidecar digest = %s, want %s", parsed, digest)
	}

	signatureData, err := os.ReadFile(path + ".sig")
	if err != nil {
		t.Fatalf("reading signature sidecar: %v", err)
	}
	signature, err := ParseSignature(signatureData)
	if err != nil {
		t.Fatalf("ParseSignature: %v", err)
	}
	if err := verifier.VerifyFile(path, parsed, signature); err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
}

func TestParseChecksumForms(t *testing.T) {
	digest := binhash.Sum([]byte("x"))
	hex := digest.String()

	tests := []struct {
		name string
		data string
	}{
		{"bare", hex + "\n"},
		{"sha256sum", hex + "  asset.tar.gz\n"},
		{"binary mode", hex + " *asset.tar.gz\n"},
		{"multi file", binhash.Sum([]byte("y")).String() + "  other.tar.gz\n" + hex + "  dist/asset.tar.gz\n"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseChecksum([]byte(test.data), "asset.tar.gz")
			if err != nil {
				t.Fatalf("ParseChecksum: %v", err)
			}
			if got != digest {
				t.Errorf("ParseChecksum = %s, want %s", got, digest)
			}
		})
	}

	if _, err := ParseChecksum([]byte(hex+"  other.tar.gz\n"), "asset.tar.gz"); !errors.Is(err, fault.Validation) {
		t.Errorf("ParseChecksum without matching entry = %v, want Validation", err)
	}
	if _, err := ParseChecksum([]byte("not-hex\n"), "asset.tar.gz"); !errors.Is(err, fault.Validation) {
		t.Errorf("ParseChecksum of garbage = %v, want Validation", err)
	}
}

func TestParseSignatureRaw(t *testing.T) {
	raw := bytes.Repeat([]byte{7}, ed25519.SignatureSize)
	got, err := ParseSignature(raw)
	if err != nil {
		t.Fatalf("ParseSignature: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Error("raw signature altered")
	}
}

func TestKeypairFiles(t *testing.T) {
	dir := t.TempDir()
	public, private, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	privatePath, publicPath, err := SaveKeypair(dir, public, private)
	if err != nil {
		t.Fatalf("SaveKeypair: %v", err)
	}

	loaded, err := LoadPrivateKey(privatePath)
	if err != nil {
		t.Fatalf("LoadPrivateKey: %v", err)
	}
	if !loaded.Equal(private) {
		t.Error("loaded private key differs")
	}

	publicText, err := os.ReadFile(publicPath)
	if err != nil {
		t.Fatalf("reading public key: %v", err)
	}
	parsed, err := ParsePublicKey(string(publicText))
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if !parsed.Equal(public) {
		t.Error("parsed public key differs")
	}

	info, err := os.Stat(privatePath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("private key mode = %v, want 0600", info.Mode().Perm())
	}

	if _, _, err := SaveKeypair(dir, public, private); err == nil {
		t.Error("SaveKeypair overwrote existing key files")
	}
}
