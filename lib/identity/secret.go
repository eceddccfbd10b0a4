// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// tokenPrefix versions the token format.
const tokenPrefix = "pa1"

const secretSize = 32

// secretDomainKey keys the BLAKE3 digest of token secrets: the ASCII
// domain name zero-padded to 32 bytes. Changing it invalidates every
// issued token.
var secretDomainKey = [32]byte{
	'p', 'u', 'p', 'p', 'y', 'a', 'g', 'e', 'n', 't', '.', 't', 'o', 'k', 'e', 'n',
	'.', 's', 'e', 'c', 'r', 'e', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func newSecret() ([]byte, error) {
	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("identity: generating token secret: %w", err)
	}
	return secret, nil
}

func digestSecret(secret []byte) []byte {
	hasher, err := blake3.NewKeyed(secretDomainKey[:])
	if err != nil {
		// NewKeyed fails only for a key that is not 32 bytes.
		panic("identity: blake3 keyed hasher: " + err.Error())
	}
	hasher.Write(secret)
	return hasher.Sum(nil)
}

func secretMatches(secret, storedDigest []byte) bool {
	return subtle.ConstantTimeCompare(digestSecret(secret), storedDigest) == 1
}

// formatToken renders the value handed to the client once at issuance.
func formatToken(tokenID string, secret []byte) string {
	return tokenPrefix + "." + tokenID + "." + base64.RawURLEncoding.EncodeToString(secret)
}

// parseToken splits a token value into its id and secret.
func parseToken(value string) (tokenID string, secret []byte, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(value), ".", 3)
	if len(parts) != 3 || parts[0] != tokenPrefix || parts[1] == "" {
		return "", nil, false
	}
	secret, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || len(secret) != secretSize {
		return "", nil, false
	}
	return parts[1], secret, true
}
