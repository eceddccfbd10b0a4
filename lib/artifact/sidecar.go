// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/puppypeer/puppyagent/lib/binhash"
	"github.com/puppypeer/puppyagent/lib/fault"
)

// ParseChecksum reads a .sha256 sidecar. Both a bare hex digest and
// sha256sum output ("<hex>  <name>", optionally "*<name>") are
// accepted. When the sidecar lists several files, the line naming
// assetName is used.
func ParseChecksum(data []byte, assetName string) (binhash.Digest, error) {
	var bare []string
	named := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		switch len(fields) {
		case 0:
			continue
		case 1:
			bare = append(bare, fields[0])
		default:
			named++
			name := path.Base(strings.TrimPrefix(fields[1], "*"))
			if name == assetName {
				return parseSidecarDigest(fields[0])
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return binhash.Digest{}, fmt.Errorf("reading checksum sidecar: %w", err)
	}
	if len(bare) == 1 && named == 0 {
		return parseSidecarDigest(bare[0])
	}
	return binhash.Digest{}, fault.New(fault.Validation, "checksum sidecar has no entry for %s", assetName)
}

func parseSidecarDigest(text string) (binhash.Digest, error) {
	digest, err := binhash.ParseDigest(text)
	if err != nil {
		return binhash.Digest{}, fault.Wrap(fault.Validation, err, "malformed checksum sidecar")
	}
	return digest, nil
}

// FormatChecksum renders a sidecar line in sha256sum format.
func FormatChecksum(digest binhash.Digest, assetName string) []byte {
	return fmt.Appendf(nil, "%s  %s\n", digest, assetName)
}

// ParseSignature reads a .sig sidecar or a wire signature field:
// either the raw 64-byte signature or its base64 text form.
func ParseSignature(data []byte) ([]byte, error) {
	if len(data) == ed25519.SignatureSize {
		return data, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fault.Wrap(fault.SignatureInvalid, err, "signature is neither raw nor base64")
	}
	if len(decoded) != ed25519.SignatureSize {
		return nil, fault.New(fault.SignatureInvalid, "signature has %d bytes, want %d", len(decoded), ed25519.SignatureSize)
	}
	return decoded, nil
}
