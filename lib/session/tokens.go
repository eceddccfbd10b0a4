// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"time"

	"github.com/puppypeer/puppyagent/lib/grant"
	"github.com/puppypeer/puppyagent/lib/identity"
)

// CreateToken issues a token for username. The token's grants must be
// delegable from the user's current grants.
func (m *Manager) CreateToken(ctx context.Context, username, label string, expiresIn time.Duration, grants []grant.Grant, issuedBy string) (string, identity.Token, error) {
	return m.store.CreateToken(ctx, identity.NewToken{
		Username:  username,
		Label:     label,
		Grants:    grants,
		ExpiresIn: expiresIn,
		IssuedBy:  issuedBy,
	})
}

// ListTokens returns token metadata for username, or for everyone when
// username is empty.
func (m *Manager) ListTokens(ctx context.Context, username string) ([]identity.Token, error) {
	return m.store.ListTokens(ctx, username)
}

// RevokeToken revokes a token and ends every session opened with it.
func (m *Manager) RevokeToken(ctx context.Context, tokenID string) (identity.Token, error) {
	token, err := m.store.RevokeToken(ctx, tokenID)
	if err != nil {
		return identity.Token{}, err
	}
	dropped := m.drop(func(s *Session) bool {
		return s.Kind == SubjectToken && s.TokenID == tokenID
	})
	m.logger.Info("token sessions ended", "token_id", tokenID, "sessions", dropped)
	return token, nil
}

// RevokeUser deletes a user, their tokens, and every session derived
// from either.
func (m *Manager) RevokeUser(ctx context.Context, username string) error {
	tokenIDs, err := m.store.RevokeUser(ctx, username)
	if err != nil {
		return err
	}
	revokedTokens := make(map[string]bool, len(tokenIDs))
	for _, id := range tokenIDs {
		revokedTokens[id] = true
	}
	dropped := m.drop(func(s *Session) bool {
		return s.Username == username || (s.Kind == SubjectToken && revokedTokens[s.TokenID])
	})
	m.logger.Info("user sessions ended", "username", username, "sessions", dropped, "tokens", len(tokenIDs))
	return nil
}
