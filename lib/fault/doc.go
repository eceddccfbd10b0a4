// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault defines the control-plane error taxonomy. Every
// component that can fail in a caller-visible way returns a [*Error]
// carrying a [Kind]; the dispatcher maps the kind onto the wire
// response (AuthFailure for [AuthFailure], Error(message) otherwise).
//
// Kinds compare with errors.Is, so callers can match a class of
// failure without string inspection:
//
//	if errors.Is(err, fault.OffsetMismatch) {
//	    // client may re-query the acknowledged offset and retry
//	}
//
// A wrapped *Error keeps its kind through fmt.Errorf("...: %w", err)
// chains. [KindOf] recovers the kind of an arbitrary error, defaulting
// to [Internal] for unclassified errors.
//
// This package has no PuppyAgent-internal dependencies.
package fault
