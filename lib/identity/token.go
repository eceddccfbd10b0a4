// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/grant"
)

// Token is a token record. The token value is never part of it.
type Token struct {
	ID       string
	Username string
	Label    string
	Grants   []grant.Grant
	IssuedAt time.Time
	IssuedBy string

	// ExpiresAt is zero for tokens that live until revoked.
	ExpiresAt time.Time
	Revoked   bool
}

// Expired reports whether the token has expired at now.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// NewToken is the input to CreateToken.
type NewToken struct {
	Username string
	Label    string
	Grants   []grant.Grant

	// ExpiresIn of zero means no expiry.
	ExpiresIn time.Duration

	// IssuedBy names the subject that requested the token.
	IssuedBy string
}

const maxLabelLength = 128

const tokenColumns = "token_id, username, label, grants, issued_at, issued_by, expires_at, revoked"

// CreateToken issues a token for an existing user. Every requested
// grant must be delegable from the user's current grants; otherwise
// the call fails with PermissionDenied. The returned string is the
// only copy of the token value.
func (s *Store) CreateToken(ctx context.Context, request NewToken) (string, Token, error) {
	label := strings.TrimSpace(request.Label)
	if len(label) > maxLabelLength {
		return "", Token{}, fault.New(fault.Validation, "token label exceeds %d characters", maxLabelLength)
	}
	if request.ExpiresIn < 0 {
		return "", Token{}, fault.New(fault.Validation, "token expiry must not be negative")
	}
	if err := grant.ValidateAll(request.Grants); err != nil {
		return "", Token{}, fault.Wrap(fault.Validation, err, "invalid permissions")
	}

	secret, err := newSecret()
	if err != nil {
		return "", Token{}, err
	}
	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	token := Token{
		ID:       uuid.NewString(),
		Username: request.Username,
		Label:    label,
		Grants:   grant.Normalize(request.Grants),
		IssuedAt: now,
		IssuedBy: request.IssuedBy,
	}
	if token.IssuedBy == "" {
		token.IssuedBy = request.Username
	}
	if request.ExpiresIn > 0 {
		token.ExpiresAt = now.Add(request.ExpiresIn)
	}

	err = s.withWrite(ctx, func(conn *sqlite.Conn) error {
		owner, err := readUser(conn, request.Username)
		if err != nil {
			return err
		}
		for _, g := range token.Grants {
			if !grant.Issuable(owner.Grants, g) {
				return fault.New(fault.PermissionDenied, "user %q cannot delegate %s", request.Username, g)
			}
		}
		blob, err := encodeGrants(token.Grants)
		if err != nil {
			return err
		}
		var expiresAt any
		if !token.ExpiresAt.IsZero() {
			expiresAt = toMillis(token.ExpiresAt)
		}
		return sqlitex.Execute(conn,
			`INSERT INTO tokens (token_id, username, label, secret_digest, grants, issued_at, issued_by, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				token.ID, token.Username, token.Label, digestSecret(secret), blob,
				toMillis(token.IssuedAt), token.IssuedBy, expiresAt,
			}})
	})
	if err != nil {
		return "", Token{}, err
	}

	s.logger.Info("token issued",
		"token_id", token.ID,
		"username", token.Username,
		"label", token.Label,
		"expires_at", token.ExpiresAt,
	)
	return formatToken(token.ID, secret), token, nil
}

// LookupToken resolves a token value to its record. Malformed values
// and unknown or mismatched secrets fail with AuthFailure. Expiry and
// revocation are reported in the record, not as errors; the session
// manager decides.
func (s *Store) LookupToken(ctx context.Context, value string) (Token, error) {
	tokenID, secret, ok := parseToken(value)
	if !ok {
		return Token{}, fault.New(fault.AuthFailure, "malformed token")
	}

	var (
		token  Token
		digest []byte
		found  bool
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT "+tokenColumns+", secret_digest FROM tokens WHERE token_id = ?",
			&sqlitex.ExecOptions{
				Args: []any{tokenID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var err error
					token, err = scanToken(stmt)
					if err != nil {
						return err
					}
					digest = make([]byte, stmt.ColumnLen(8))
					stmt.ColumnBytes(8, digest)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return Token{}, fmt.Errorf("identity: looking up token: %w", err)
	}
	if !found || !secretMatches(secret, digest) {
		return Token{}, fault.New(fault.AuthFailure, "unknown token")
	}
	return token, nil
}

// GetToken returns a token record by id. Unknown ids fail with
// NotFound.
func (s *Store) GetToken(ctx context.Context, tokenID string) (Token, error) {
	var (
		token Token
		found bool
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT "+tokenColumns+" FROM tokens WHERE token_id = ?",
			&sqlitex.ExecOptions{
				Args: []any{tokenID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					var err error
					token, err = scanToken(stmt)
					found = err == nil
					return err
				},
			})
	})
	if err != nil {
		return Token{}, fmt.Errorf("identity: reading token: %w", err)
	}
	if !found {
		return Token{}, fault.New(fault.NotFound, "token %q", tokenID)
	}
	return token, nil
}

// ListTokens returns the tokens of username, or of every user when
// username is empty, oldest first.
func (s *Store) ListTokens(ctx context.Context, username string) ([]Token, error) {
	query := "SELECT " + tokenColumns + " FROM tokens"
	var args []any
	if username != "" {
		query += " WHERE username = ?"
		args = append(args, username)
	}
	query += " ORDER BY issued_at, token_id"

	tokens := []Token{}
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args: args,
			ResultFunc: func(stmt *sqlite.Stmt) error {
				token, err := scanToken(stmt)
				if err != nil {
					return err
				}
				tokens = append(tokens, token)
				return nil
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("identity: listing tokens: %w", err)
	}
	return tokens, nil
}

// RevokeToken marks a token revoked. Revoking an already revoked
// token succeeds. Unknown ids fail with NotFound.
func (s *Store) RevokeToken(ctx context.Context, tokenID string) (Token, error) {
	err := s.withWrite(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, "UPDATE tokens SET revoked = 1 WHERE token_id = ?",
			&sqlitex.ExecOptions{Args: []any{tokenID}}); err != nil {
			return fmt.Errorf("identity: revoking token: %w", err)
		}
		if conn.Changes() == 0 {
			return fault.New(fault.NotFound, "token %q", tokenID)
		}
		return nil
	})
	if err != nil {
		return Token{}, err
	}
	s.logger.Info("token revoked", "token_id", tokenID)
	return s.GetToken(ctx, tokenID)
}

func scanToken(stmt *sqlite.Stmt) (Token, error) {
	grants, err := decodeGrants(stmt, 3)
	if err != nil {
		return Token{}, err
	}
	token := Token{
		ID:       stmt.ColumnText(0),
		Username: stmt.ColumnText(1),
		Label:    stmt.ColumnText(2),
		Grants:   grants,
		IssuedAt: fromMillis(stmt.ColumnInt64(4)),
		IssuedBy: stmt.ColumnText(5),
		Revoked:  stmt.ColumnInt(7) != 0,
	}
	if !stmt.ColumnIsNull(6) {
		token.ExpiresAt = fromMillis(stmt.ColumnInt64(6))
	}
	return token, nil
}
