// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package github is a small typed client for the GitHub releases API,
// which is where PuppyAgent publishes its signed tarballs.
//
// The client works anonymously by default; a token raises the rate
// limit and grants access to private repositories. It handles rate
// limiting (X-RateLimit-* headers with one backoff-and-retry),
// pagination (RFC 5988 Link headers), conditional requests (ETags, so
// repeated update checks do not spend quota), and structured error
// mapping.
//
// All requests are made over HTTPS. The client refuses non-HTTPS base
// URLs.
package github
