// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a control-plane failure. Kind implements error so a
// bare kind can be used as an errors.Is target.
type Kind int

const (
	// Internal is any failure that does not fit a more specific kind.
	Internal Kind = iota

	// AuthFailure covers bad credentials, unknown/expired/revoked
	// tokens, and sessions that are no longer valid.
	AuthFailure

	// PermissionDenied means the session is valid but lacks the
	// capability for the requested operation.
	PermissionDenied

	// AlreadyExists is returned for duplicate usernames.
	AlreadyExists

	// NotFound is returned for unknown job, upload, token, or user ids.
	NotFound

	// Validation covers malformed sizes, offsets, paths, and names.
	Validation

	// OffsetMismatch means an upload chunk did not start at the
	// session's current staged offset.
	OffsetMismatch

	// ChecksumMismatch means artifact bytes do not hash to the
	// declared SHA-256.
	ChecksumMismatch

	// SignatureInvalid means the detached Ed25519 signature does not
	// verify against the release public key.
	SignatureInvalid

	// Conflict means another update job is still non-terminal.
	Conflict

	// Expired covers sessions and upload sessions past their deadline.
	Expired

	// InternalIO covers unpack, swap, and restart failures.
	InternalIO
)

var kindNames = map[Kind]string{
	Internal:         "Internal",
	AuthFailure:      "AuthFailure",
	PermissionDenied: "PermissionDenied",
	AlreadyExists:    "AlreadyExists",
	NotFound:         "NotFound",
	Validation:       "ValidationError",
	OffsetMismatch:   "OffsetMismatch",
	ChecksumMismatch: "ChecksumMismatch",
	SignatureInvalid: "SignatureInvalid",
	Conflict:         "ConflictError",
	Expired:          "Expired",
	InternalIO:       "InternalIO",
}

// String returns the wire name of the kind (e.g., "OffsetMismatch").
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error makes a bare Kind usable as an errors.Is target.
func (k Kind) Error() string {
	return k.String()
}

// Error is a classified control-plane failure.
type Error struct {
	Kind    Kind
	Message string

	// Err is the underlying cause, if any. It is not included in the
	// wire message.
	Err error
}

// New returns an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error of the given kind that carries cause. The
// message is the formatted text; cause is reachable via errors.Unwrap.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same Kind as e. Both a bare Kind
// and another *Error with the same Kind match.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		return e.Kind == t
	case *Error:
		return e.Kind == t.Kind
	}
	return false
}

// WireMessage returns "Kind: message" without the underlying cause.
// This is the text placed in Error(message) responses; causes may
// contain filesystem paths or library details that stay in the logs.
func (e *Error) WireMessage() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf returns the Kind of the first *Error in err's chain, or
// Internal when err carries no classification. KindOf(nil) is Internal.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	var kind Kind
	if errors.As(err, &kind) {
		return kind
	}
	return Internal
}
