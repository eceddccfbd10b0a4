// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import "io"

// MaxResponseSize bounds JSON API response reads. Release listings are
// a few hundred kilobytes at most; asset downloads are streamed and do
// not go through this helper.
const MaxResponseSize int64 = 16 << 20

// ReadResponse reads an API response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}
