// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/grant"
)

// User is a stored account without its password hash.
type User struct {
	Username  string
	Roles     []string
	Grants    []grant.Grant
	CreatedAt time.Time
}

// NewUser is the input to CreateUser.
type NewUser struct {
	Username string
	Password string
	Roles    []string
	Grants   []grant.Grant
}

const (
	maxUsernameLength = 64

	// bcrypt ignores input past 72 bytes; longer passwords are refused
	// rather than silently truncated.
	maxPasswordLength = 72
)

// ValidateUsername checks that name is 1-64 characters drawn from
// letters, digits, '.', '_', '-', and '@'.
func ValidateUsername(name string) error {
	if name == "" {
		return fault.New(fault.Validation, "username is empty")
	}
	if len(name) > maxUsernameLength {
		return fault.New(fault.Validation, "username exceeds %d characters", maxUsernameLength)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-', r == '@':
		default:
			return fault.New(fault.Validation, "username %q contains %q", name, r)
		}
	}
	return nil
}

// CreateUser adds a user. Explicit grants are unioned with the
// defaults of the requested roles. On an empty store the user is
// always given the owner role and the Owner grant, and bootstrap is
// reported true. A duplicate username fails with AlreadyExists.
func (s *Store) CreateUser(ctx context.Context, request NewUser) (user User, bootstrap bool, err error) {
	if err := ValidateUsername(request.Username); err != nil {
		return User{}, false, err
	}
	if request.Password == "" {
		return User{}, false, fault.New(fault.Validation, "password is empty")
	}
	if len(request.Password) > maxPasswordLength {
		return User{}, false, fault.New(fault.Validation, "password exceeds %d bytes", maxPasswordLength)
	}
	if err := grant.ValidateAll(request.Grants); err != nil {
		return User{}, false, fault.Wrap(fault.Validation, err, "invalid permissions")
	}

	// bcrypt is deliberately slow; hash before taking the write lock.
	hash, err := bcrypt.GenerateFromPassword([]byte(request.Password), s.bcryptCost)
	if err != nil {
		return User{}, false, fmt.Errorf("identity: hashing password: %w", err)
	}

	roles := grant.NormalizeRoles(request.Roles)
	createdAt := s.clock.Now().UTC().Truncate(time.Millisecond)

	err = s.withWrite(ctx, func(conn *sqlite.Conn) error {
		count, err := countUsers(conn)
		if err != nil {
			return err
		}
		if count == 0 {
			bootstrap = true
			roles = grant.NormalizeRoles(append([]string{grant.RoleOwner}, roles...))
		} else {
			exists, err := userExists(conn, request.Username)
			if err != nil {
				return err
			}
			if exists {
				return fault.New(fault.AlreadyExists, "user %q already exists", request.Username)
			}
		}

		grants := grant.Expand(roles, request.Grants)
		blob, err := encodeGrants(grants)
		if err != nil {
			return err
		}
		if err := sqlitex.Execute(conn,
			"INSERT INTO users (username, password_hash, grants, created_at) VALUES (?, ?, ?, ?)",
			&sqlitex.ExecOptions{Args: []any{request.Username, hash, blob, toMillis(createdAt)}}); err != nil {
			return fmt.Errorf("identity: inserting user: %w", err)
		}
		for _, role := range roles {
			if err := sqlitex.Execute(conn,
				"INSERT INTO user_roles (username, role) VALUES (?, ?)",
				&sqlitex.ExecOptions{Args: []any{request.Username, role}}); err != nil {
				return fmt.Errorf("identity: inserting role: %w", err)
			}
		}
		user = User{Username: request.Username, Roles: roles, Grants: grants, CreatedAt: createdAt}
		return nil
	})
	if err != nil {
		return User{}, false, err
	}

	s.logger.Info("user created",
		"username", user.Username,
		"roles", user.Roles,
		"bootstrap", bootstrap,
	)
	return user, bootstrap, nil
}

// GrantAccess merges grants into the user's set (merge) or replaces
// the set outright. Returns the resulting set.
func (s *Store) GrantAccess(ctx context.Context, username string, grants []grant.Grant, merge bool) ([]grant.Grant, error) {
	if err := grant.ValidateAll(grants); err != nil {
		return nil, fault.Wrap(fault.Validation, err, "invalid permissions")
	}

	var result []grant.Grant
	err := s.withWrite(ctx, func(conn *sqlite.Conn) error {
		current, err := readUser(conn, username)
		if err != nil {
			return err
		}
		if merge {
			result = grant.Union(current.Grants, grants)
		} else {
			result = grant.Normalize(grants)
		}
		blob, err := encodeGrants(result)
		if err != nil {
			return err
		}
		return sqlitex.Execute(conn, "UPDATE users SET grants = ? WHERE username = ?",
			&sqlitex.ExecOptions{Args: []any{blob, username}})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("access granted", "username", username, "merge", merge, "grants", len(result))
	return result, nil
}

// GetUser returns the named user. An unknown name fails with NotFound.
func (s *Store) GetUser(ctx context.Context, username string) (User, error) {
	var user User
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		var err error
		user, err = readUser(conn, username)
		return err
	})
	return user, err
}

// ListUsers returns every user ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		index := make(map[string]int)
		err := sqlitex.Execute(conn,
			"SELECT username, grants, created_at FROM users ORDER BY username",
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				grants, err := decodeGrants(stmt, 1)
				if err != nil {
					return err
				}
				index[stmt.ColumnText(0)] = len(users)
				users = append(users, User{
					Username:  stmt.ColumnText(0),
					Roles:     []string{},
					Grants:    grants,
					CreatedAt: fromMillis(stmt.ColumnInt64(2)),
				})
				return nil
			}})
		if err != nil {
			return fmt.Errorf("identity: listing users: %w", err)
		}
		return sqlitex.Execute(conn,
			"SELECT username, role FROM user_roles ORDER BY username, rowid",
			&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
				if i, ok := index[stmt.ColumnText(0)]; ok {
					users[i].Roles = append(users[i].Roles, stmt.ColumnText(1))
				}
				return nil
			}})
	})
	return users, err
}

// UserCount returns the number of users. Zero means open bootstrap
// mode.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		var err error
		count, err = countUsers(conn)
		return err
	})
	return count, err
}

// RevokeUser deletes the user and every token they own. The returned
// ids are the deleted tokens.
func (s *Store) RevokeUser(ctx context.Context, username string) ([]string, error) {
	var tokenIDs []string
	err := s.withWrite(ctx, func(conn *sqlite.Conn) error {
		exists, err := userExists(conn, username)
		if err != nil {
			return err
		}
		if !exists {
			return fault.New(fault.NotFound, "user %q", username)
		}
		err = sqlitex.Execute(conn, "SELECT token_id FROM tokens WHERE username = ?",
			&sqlitex.ExecOptions{
				Args: []any{username},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					tokenIDs = append(tokenIDs, stmt.ColumnText(0))
					return nil
				},
			})
		if err != nil {
			return fmt.Errorf("identity: enumerating tokens: %w", err)
		}
		if err := sqlitex.Execute(conn, "DELETE FROM tokens WHERE username = ?",
			&sqlitex.ExecOptions{Args: []any{username}}); err != nil {
			return fmt.Errorf("identity: deleting tokens: %w", err)
		}
		if err := sqlitex.Execute(conn, "DELETE FROM users WHERE username = ?",
			&sqlitex.ExecOptions{Args: []any{username}}); err != nil {
			return fmt.Errorf("identity: deleting user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user revoked", "username", username, "tokens_revoked", len(tokenIDs))
	return tokenIDs, nil
}

// VerifyPassword checks a credential pair. Unknown users and wrong
// passwords both fail with AuthFailure after the same bcrypt work.
func (s *Store) VerifyPassword(ctx context.Context, username, password string) (User, error) {
	var (
		user User
		hash []byte
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		var err error
		user, err = readUser(conn, username)
		if err != nil {
			return err
		}
		return sqlitex.Execute(conn, "SELECT password_hash FROM users WHERE username = ?",
			&sqlitex.ExecOptions{
				Args: []any{username},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					hash = make([]byte, stmt.ColumnLen(0))
					stmt.ColumnBytes(0, hash)
					return nil
				},
			})
	})
	if errors.Is(err, fault.NotFound) {
		bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return User{}, fault.New(fault.AuthFailure, "invalid username or password")
	}
	if err != nil {
		return User{}, err
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return User{}, fault.New(fault.AuthFailure, "invalid username or password")
	}
	return user, nil
}

func countUsers(conn *sqlite.Conn) (int, error) {
	count := 0
	err := sqlitex.Execute(conn, "SELECT COUNT(*) FROM users", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("identity: counting users: %w", err)
	}
	return count, nil
}

func userExists(conn *sqlite.Conn, username string) (bool, error) {
	exists := false
	err := sqlitex.Execute(conn, "SELECT 1 FROM users WHERE username = ?", &sqlitex.ExecOptions{
		Args: []any{username},
		ResultFunc: func(*sqlite.Stmt) error {
			exists = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("identity: looking up user: %w", err)
	}
	return exists, nil
}

func readUser(conn *sqlite.Conn, username string) (User, error) {
	var (
		user  User
		found bool
	)
	err := sqlitex.Execute(conn, "SELECT grants, created_at FROM users WHERE username = ?",
		&sqlitex.ExecOptions{
			Args: []any{username},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				grants, err := decodeGrants(stmt, 0)
				if err != nil {
					return err
				}
				found = true
				user = User{Username: username, Grants: grants, CreatedAt: fromMillis(stmt.ColumnInt64(1))}
				return nil
			},
		})
	if err != nil {
		return User{}, fmt.Errorf("identity: reading user: %w", err)
	}
	if !found {
		return User{}, fault.New(fault.NotFound, "user %q", username)
	}

	user.Roles = []string{}
	err = sqlitex.Execute(conn, "SELECT role FROM user_roles WHERE username = ? ORDER BY rowid",
		&sqlitex.ExecOptions{
			Args: []any{username},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				user.Roles = append(user.Roles, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return User{}, fmt.Errorf("identity: reading roles: %w", err)
	}
	return user, nil
}
