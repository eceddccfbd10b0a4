// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package controlplane defines the control-plane protocol and routes
// requests to the identity, session, authorization, staging, and update
// components.
//
// Requests and responses are closed sets of variants encoded as
// externally tagged JSON: a variant with fields is a single-key object
// ({"CreateUser":{"username":"alice",...}}) and a variant without
// fields is a bare string ("ListUsers"). A request travels in an
// [Envelope] naming the caller's session:
//
//	{"session":"9f2c...","request":{"UpdateStatus":{"job_id":"..."}}}
//
// Every request yields exactly one response. Authentication problems
// (missing, unknown, expired, or revoked sessions) produce
// [AuthFailure]; every other failure produces [Error] carrying
// "Kind: message" where Kind is the [fault.Kind] name.
//
// [Dispatcher.Dispatch] checks the caller's permission immediately
// before each operation, against live grants. Update jobs additionally
// carry a guard that repeats the check right before they swap versions.
package controlplane
