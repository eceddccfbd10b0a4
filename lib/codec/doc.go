// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds PuppyAgent's CBOR configuration.
//
// JSON is the external format (the control-plane protocol, release
// API responses, CLI output). CBOR is used for state PuppyAgent writes
// for itself: grant sets stored in the identity database and the
// activation journal that survives a restart. Encoding is Core
// Deterministic (RFC 8949 §4.2), so equal values always produce equal
// bytes and a stored grant blob can be compared byte-for-byte.
package codec
