// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package authorization

import (
	"context"
	"errors"
	"log/slog"

	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/grant"
	"github.com/puppypeer/puppyagent/lib/session"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// DenyReason says why a check was denied.
type DenyReason int

const (
	// ReasonNone accompanies Allow.
	ReasonNone DenyReason = iota

	// ReasonNoSession means no session id was presented.
	ReasonNoSession

	// ReasonInvalidSession means the session did not resolve.
	ReasonInvalidSession

	// ReasonNoGrant means the session resolved but its grants do not
	// cover the capability.
	ReasonNoGrant

	// ReasonNotAccountHolder means an account-scoped call came from a
	// session that is neither the account's own credential session
	// nor an Owner.
	ReasonNotAccountHolder

	// ReasonError means the identity store could not be read.
	ReasonError
)

func (r DenyReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNoSession:
		return "no session"
	case ReasonInvalidSession:
		return "invalid session"
	case ReasonNoGrant:
		return "no matching grant"
	case ReasonNotAccountHolder:
		return "not the account holder"
	case ReasonError:
		return "evaluation error"
	}
	return "unknown"
}

// Result is the trace of one check.
type Result struct {
	Decision Decision
	Reason   DenyReason

	// Bootstrap is true when the check passed because no users exist.
	Bootstrap bool

	// Principal is the resolved subject. Zero when the session did not
	// resolve.
	Principal session.Principal

	// Err carries the classified failure for Deny results.
	Err error
}

// UserCounter reports how many users exist.
type UserCounter interface {
	UserCount(ctx context.Context) (int, error)
}

// SessionResolver resolves session ids to live principals.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (session.Principal, error)
}

// Evaluator checks capabilities against live grants.
type Evaluator struct {
	users    UserCounter
	sessions SessionResolver
	logger   *slog.Logger
}

// New returns an Evaluator.
func New(users UserCounter, sessions SessionResolver, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Evaluator{users: users, sessions: sessions, logger: logger}
}

var bootstrapPrincipal = session.Principal{
	Kind:   session.SubjectBootstrap,
	Roles:  []string{grant.RoleOwner},
	Grants: []grant.Grant{grant.Unit(grant.Owner)},
}

// resolve runs steps 1-3 of the resolution order.
func (e *Evaluator) resolve(ctx context.Context, sessionID string) Result {
	count, err := e.users.UserCount(ctx)
	if err != nil {
		return Result{Decision: Deny, Reason: ReasonError, Err: err}
	}
	if count == 0 {
		principal := bootstrapPrincipal
		principal.SessionID = sessionID
		return Result{Decision: Allow, Bootstrap: true, Principal: principal}
	}
	if sessionID == "" {
		return Result{
			Decision: Deny,
			Reason:   ReasonNoSession,
			Err:      fault.New(fault.AuthFailure, "authentication required"),
		}
	}
	principal, err := e.sessions.Resolve(ctx, sessionID)
	if err != nil {
		reason := ReasonInvalidSession
		if !errors.Is(err, fault.AuthFailure) && !errors.Is(err, fault.Expired) {
			reason = ReasonError
		}
		return Result{Decision: Deny, Reason: reason, Err: err}
	}
	return Result{Decision: Allow, Principal: principal}
}

// Evaluate checks whether sessionID may perform capability.
func (e *Evaluator) Evaluate(ctx context.Context, sessionID string, capability grant.Capability) Result {
	result := e.resolve(ctx, sessionID)
	if result.Decision == Deny || result.Bootstrap {
		return result
	}
	if !grant.Covers(result.Principal.Grants, capability) {
		result.Decision = Deny
		result.Reason = ReasonNoGrant
		result.Err = fault.New(fault.PermissionDenied, "%s requires %s", subjectName(result.Principal), capability)
		e.logger.Info("permission denied",
			"username", result.Principal.Username,
			"token_id", result.Principal.TokenID,
			"capability", capability.String(),
		)
	}
	return result
}

// Authorize is Evaluate returning the principal or the classified
// failure.
func (e *Evaluator) Authorize(ctx context.Context, sessionID string, capability grant.Capability) (session.Principal, error) {
	result := e.Evaluate(ctx, sessionID, capability)
	if result.Decision == Deny {
		return session.Principal{}, result.Err
	}
	return result.Principal, nil
}

// Allowed is Evaluate reduced to a boolean.
func (e *Evaluator) Allowed(ctx context.Context, sessionID string, capability grant.Capability) bool {
	return e.Evaluate(ctx, sessionID, capability).Decision == Allow
}

// AuthorizeAccount permits account-scoped token management for
// username: an Owner may act on any account, and a user may act on
// their own account from a credential session. Token sessions cannot
// mint or revoke tokens for a non-Owner account.
func (e *Evaluator) AuthorizeAccount(ctx context.Context, sessionID, username string) (session.Principal, error) {
	result := e.resolve(ctx, sessionID)
	if result.Decision == Deny {
		return session.Principal{}, result.Err
	}
	principal := result.Principal
	if result.Bootstrap || grant.Has(principal.Grants, grant.Owner) {
		return principal, nil
	}
	if principal.Kind == session.SubjectUser && username != "" && principal.Username == username {
		return principal, nil
	}
	e.logger.Info("permission denied",
		"username", principal.Username,
		"token_id", principal.TokenID,
		"account", username,
		"reason", ReasonNotAccountHolder.String(),
	)
	if username == "" {
		return session.Principal{}, fault.New(fault.PermissionDenied, "%s cannot act on every account", subjectName(principal))
	}
	return session.Principal{}, fault.New(fault.PermissionDenied, "%s cannot manage tokens of %q", subjectName(principal), username)
}

// Guard re-checks a capability for a fixed session.
type Guard func(ctx context.Context) error

// Guard returns a Guard that re-runs Authorize for sessionID each time
// it is called.
func (e *Evaluator) Guard(sessionID string, capability grant.Capability) Guard {
	return func(ctx context.Context) error {
		_, err := e.Authorize(ctx, sessionID, capability)
		return err
	}
}

// AllowAll is the guard for work started by a local operator.
func AllowAll(context.Context) error { return nil }

func subjectName(principal session.Principal) string {
	if principal.Kind == session.SubjectToken {
		return "token " + principal.TokenID
	}
	return "user " + principal.Username
}
