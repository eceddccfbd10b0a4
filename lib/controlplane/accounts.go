// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"context"
	"time"

	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/grant"
	"github.com/puppypeer/puppyagent/lib/identity"
	"github.com/puppypeer/puppyagent/lib/session"
)

func (d *Dispatcher) authenticate(ctx context.Context, request Authenticate) (Response, error) {
	var method session.Method
	methodName := "unknown"
	switch {
	case request.Method.Credentials != nil:
		methodName = "credentials"
		method = session.Credentials{
			Username: request.Method.Credentials.Username,
			Password: request.Method.Credentials.Password,
		}
	case request.Method.Token != nil:
		methodName = "token"
		method = session.Token{Value: request.Method.Token.Token}
	default:
		return nil, fault.New(fault.Validation, "authentication method is missing")
	}

	principal, err := d.sessions.Authenticate(ctx, method)
	if err != nil {
		d.metrics.IncAuthentication(methodName, "failure")
		return nil, asAuthError(err)
	}
	d.metrics.IncAuthentication(methodName, "success")
	return AuthSuccess{Session: sessionInfo(principal)}, nil
}

func sessionInfo(principal session.Principal) SessionInfo {
	return SessionInfo{
		SessionID:   principal.SessionID,
		Kind:        principal.Kind.String(),
		Username:    principal.Username,
		Roles:       rolesOrEmpty(principal.Roles),
		Permissions: grantsOrEmpty(principal.Grants),
		ExpiresAt:   optionalTime(principal.ExpiresAt),
	}
}

func (d *Dispatcher) createUser(ctx context.Context, sessionID string, request CreateUser) (Response, error) {
	if _, err := d.authorize(ctx, sessionID, grant.Need(grant.ManageUsers)); err != nil {
		return nil, err
	}
	user, _, err := d.identity.CreateUser(ctx, identity.NewUser{
		Username: request.Username,
		Password: request.Password,
		Roles:    request.Roles,
		Grants:   request.Permissions,
	})
	if err != nil {
		return nil, err
	}
	return UserCreated{Username: user.Username}, nil
}

func (d *Dispatcher) grantAccess(ctx context.Context, sessionID string, request GrantAccess) (Response, error) {
	if _, err := d.authorize(ctx, sessionID, grant.Need(grant.ManageUsers)); err != nil {
		return nil, err
	}
	grants, err := d.identity.GrantAccess(ctx, request.Username, request.Permissions, request.Merge)
	if err != nil {
		return nil, err
	}
	return AccessGranted{Username: request.Username, Permissions: grantsOrEmpty(grants)}, nil
}

func (d *Dispatcher) listUsers(ctx context.Context, sessionID string) (Response, error) {
	if _, err := d.authorize(ctx, sessionID, grant.Need(grant.ManageUsers)); err != nil {
		return nil, err
	}
	users, err := d.identity.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make(Users, 0, len(users))
	for _, user := range users {
		summaries = append(summaries, UserSummary{
			Username:    user.Username,
			Roles:       rolesOrEmpty(user.Roles),
			Permissions: grantsOrEmpty(user.Grants),
			CreatedAt:   user.CreatedAt.UTC(),
		})
	}
	return summaries, nil
}

func (d *Dispatcher) revokeUser(ctx context.Context, sessionID string, request RevokeUser) (Response, error) {
	if _, err := d.authorize(ctx, sessionID, grant.Need(grant.ManageUsers)); err != nil {
		return nil, err
	}
	if err := d.sessions.RevokeUser(ctx, request.Username); err != nil {
		return nil, err
	}
	return UserRemoved{Username: request.Username}, nil
}

func (d *Dispatcher) createToken(ctx context.Context, sessionID string, request CreateToken) (Response, error) {
	principal, err := d.evaluator.AuthorizeAccount(ctx, sessionID, request.Username)
	if err != nil {
		return nil, asAuthError(err)
	}
	var expiresIn time.Duration
	if request.ExpiresIn != nil {
		if *request.ExpiresIn == 0 || *request.ExpiresIn > uint64(10*365*24*time.Hour/time.Second) {
			return nil, fault.New(fault.Validation, "expires_in must be between 1 second and 10 years")
		}
		expiresIn = time.Duration(*request.ExpiresIn) * time.Second
	}
	issuedBy := principal.Username
	if principal.Kind == session.SubjectToken {
		issuedBy = "token:" + principal.TokenID
	}

	value, token, err := d.sessions.CreateToken(ctx, request.Username, request.Label, expiresIn, request.Permissions, issuedBy)
	if err != nil {
		return nil, err
	}
	return TokenIssued{
		Token:       value,
		TokenID:     token.ID,
		Username:    token.Username,
		Permissions: grantsOrEmpty(token.Grants),
		ExpiresAt:   optionalTime(token.ExpiresAt),
	}, nil
}

func (d *Dispatcher) listTokens(ctx context.Context, sessionID string, request ListTokens) (Response, error) {
	if _, err := d.evaluator.AuthorizeAccount(ctx, sessionID, request.Username); err != nil {
		return nil, asAuthError(err)
	}
	tokens, err := d.sessions.ListTokens(ctx, request.Username)
	if err != nil {
		return nil, err
	}
	infos := make(Tokens, 0, len(tokens))
	for _, token := range tokens {
		infos = append(infos, tokenInfo(token))
	}
	return infos, nil
}

func tokenInfo(token identity.Token) TokenInfo {
	return TokenInfo{
		ID:          token.ID,
		Username:    token.Username,
		Label:       token.Label,
		Permissions: grantsOrEmpty(token.Grants),
		ExpiresAt:   optionalTime(token.ExpiresAt),
		Revoked:     token.Revoked,
		IssuedAt:    token.IssuedAt.UTC(),
		IssuedBy:    token.IssuedBy,
	}
}

func (d *Dispatcher) revokeToken(ctx context.Context, sessionID string, request RevokeToken) (Response, error) {
	// Establish the caller before revealing whether the token exists.
	if _, err := d.authorize(ctx, sessionID, grant.Need(grant.Authenticated)); err != nil {
		return nil, err
	}
	token, err := d.identity.GetToken(ctx, request.TokenID)
	if err != nil {
		return nil, err
	}
	if _, err := d.evaluator.AuthorizeAccount(ctx, sessionID, token.Username); err != nil {
		return nil, asAuthError(err)
	}
	if _, err := d.sessions.RevokeToken(ctx, request.TokenID); err != nil {
		return nil, err
	}
	return TokenRevoked{TokenID: request.TokenID}, nil
}

func (d *Dispatcher) listPermissions(ctx context.Context, sessionID string) (Response, error) {
	result, err := d.authorize(ctx, sessionID, grant.Need(grant.Authenticated))
	if err != nil {
		return nil, err
	}
	return Permissions(grantsOrEmpty(result.Principal.Grants)), nil
}

func (d *Dispatcher) getVersion(ctx context.Context, sessionID string) (Response, error) {
	if _, err := d.authorize(ctx, sessionID, grant.Need(grant.Authenticated)); err != nil {
		return nil, err
	}
	return Version{Version: d.updates.CurrentVersion(), Commit: d.commit, Target: d.target}, nil
}
