// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	privateKeyFile = "release-signing-key"
	publicKeyFile  = "release-signing-key.pub"
)

// GenerateKeypair creates a release signing keypair.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return public, private, nil
}

// SaveKeypair writes the keypair into dir as base64 text: the private
// key with mode 0600, the public key with mode 0644. The public key
// file's content is the value for update.public_key. Existing files
// are never overwritten. Returns the paths written.
func SaveKeypair(dir string, public ed25519.PublicKey, private ed25519.PrivateKey) (privatePath, publicPath string, err error) {
	privatePath = filepath.Join(dir, privateKeyFile)
	publicPath = filepath.Join(dir, publicKeyFile)

	if err := writeExclusive(privatePath, base64.StdEncoding.EncodeToString(private)+"\n", 0o600); err != nil {
		return "", "", fmt.Errorf("writing private key: %w", err)
	}
	if err := writeExclusive(publicPath, FormatPublicKey(public)+"\n", 0o644); err != nil {
		return "", "", fmt.Errorf("writing public key: %w", err)
	}
	return privatePath, publicPath, nil
}

func writeExclusive(path, content string, mode os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// LoadPrivateKey reads a private key written by SaveKeypair.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding private key %s: %w", path, err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(decoded), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(decoded), nil
}

// FormatPublicKey returns the base64 text form of a public key.
func FormatPublicKey(public ed25519.PublicKey) string {
	return base64.StdEncoding.EncodeToString(public)
}

// ParsePublicKey decodes the base64 text form of a public key.
func ParsePublicKey(text string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(decoded), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(decoded), nil
}
