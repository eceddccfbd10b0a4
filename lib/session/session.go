// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/puppypeer/puppyagent/lib/clock"
	"github.com/puppypeer/puppyagent/lib/fault"
	"github.com/puppypeer/puppyagent/lib/grant"
	"github.com/puppypeer/puppyagent/lib/identity"
)

// DefaultCredentialTTL is the lifetime of a password-authenticated
// session.
const DefaultCredentialTTL = time.Hour

// SubjectKind says what a session refers to.
type SubjectKind int

const (
	SubjectUser SubjectKind = iota
	SubjectToken
	SubjectBootstrap
)

func (k SubjectKind) String() string {
	switch k {
	case SubjectUser:
		return "user"
	case SubjectToken:
		return "token"
	case SubjectBootstrap:
		return "bootstrap"
	}
	return fmt.Sprintf("SubjectKind(%d)", int(k))
}

// Session is a live session entry.
type Session struct {
	ID        string
	Kind      SubjectKind
	Username  string
	TokenID   string
	CreatedAt time.Time

	// ExpiresAt is zero for sessions that end only on revocation.
	ExpiresAt time.Time
}

func (s *Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Principal is the live view of a session's subject, resolved at the
// moment of the call.
type Principal struct {
	SessionID string
	Kind      SubjectKind
	Username  string
	TokenID   string
	Roles     []string
	Grants    []grant.Grant
	ExpiresAt time.Time
}

// Method is an authentication method: Credentials or Token.
type Method interface {
	method()
}

// Credentials authenticates with a username and password.
type Credentials struct {
	Username string
	Password string
}

// Token authenticates with an issued token value.
type Token struct {
	Value string
}

func (Credentials) method() {}
func (Token) method()       {}

// Config holds the parameters for a Manager.
type Config struct {
	Clock         clock.Clock
	Logger        *slog.Logger
	CredentialTTL time.Duration
}

// Manager issues and resolves sessions. It is safe for concurrent use.
type Manager struct {
	store         *identity.Store
	clock         clock.Clock
	logger        *slog.Logger
	credentialTTL time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns a Manager over store.
func NewManager(store *identity.Store, cfg Config) *Manager {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ttl := cfg.CredentialTTL
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &Manager{
		store:         store,
		clock:         clk,
		logger:        logger,
		credentialTTL: ttl,
		sessions:      make(map[string]*Session),
	}
}

// Authenticate verifies method and opens a session. While the identity
// store is empty every method succeeds with a bootstrap session.
func (m *Manager) Authenticate(ctx context.Context, method Method) (Principal, error) {
	count, err := m.store.UserCount(ctx)
	if err != nil {
		return Principal{}, err
	}
	now := m.clock.Now()

	var entry *Session
	switch method := method.(type) {
	case Credentials:
		if count == 0 {
			entry = &Session{Kind: SubjectBootstrap, ExpiresAt: now.Add(m.credentialTTL)}
			break
		}
		user, err := m.store.VerifyPassword(ctx, method.Username, method.Password)
		if err != nil {
			m.logger.Warn("credential authentication failed", "username", method.Username)
			return Principal{}, err
		}
		entry = &Session{Kind: SubjectUser, Username: user.Username, ExpiresAt: now.Add(m.credentialTTL)}

	case Token:
		if count == 0 {
			entry = &Session{Kind: SubjectBootstrap, ExpiresAt: now.Add(m.credentialTTL)}
			break
		}
		token, err := m.store.LookupToken(ctx, method.Value)
		if err != nil {
			m.logger.Warn("token authentication failed")
			return Principal{}, err
		}
		if err := checkToken(token, now); err != nil {
			m.logger.Warn("token authentication failed", "token_id", token.ID, "error", err)
			return Principal{}, err
		}
		entry = &Session{Kind: SubjectToken, Username: token.Username, TokenID: token.ID, ExpiresAt: token.ExpiresAt}

	default:
		return Principal{}, fault.New(fault.Validation, "unsupported authentication method %T", method)
	}

	entry.ID, err = newSessionID()
	if err != nil {
		return Principal{}, err
	}
	entry.CreatedAt = now

	principal, err := m.resolveEntry(ctx, entry)
	if err != nil {
		return Principal{}, err
	}

	m.mu.Lock()
	m.sessions[entry.ID] = entry
	m.mu.Unlock()

	m.logger.Info("session opened",
		"kind", entry.Kind,
		"username", entry.Username,
		"token_id", entry.TokenID,
		"expires_at", entry.ExpiresAt,
	)
	return principal, nil
}

// Resolve returns the live principal behind sessionID. Unknown,
// revoked, and deleted-subject sessions fail with AuthFailure; expired
// ones with Expired.
func (m *Manager) Resolve(ctx context.Context, sessionID string) (Principal, error) {
	m.mu.RLock()
	entry, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return Principal{}, fault.New(fault.AuthFailure, "unknown session")
	}

	principal, err := m.resolveEntry(ctx, entry)
	if err != nil && (errors.Is(err, fault.AuthFailure) || errors.Is(err, fault.Expired)) {
		m.drop(func(s *Session) bool { return s.ID == sessionID })
	}
	return principal, err
}

func (m *Manager) resolveEntry(ctx context.Context, entry *Session) (Principal, error) {
	now := m.clock.Now()
	if entry.expired(now) {
		return Principal{}, fault.New(fault.Expired, "session expired at %s", entry.ExpiresAt.UTC().Format(time.RFC3339))
	}
	principal := Principal{
		SessionID: entry.ID,
		Kind:      entry.Kind,
		Username:  entry.Username,
		TokenID:   entry.TokenID,
		ExpiresAt: entry.ExpiresAt,
	}

	switch entry.Kind {
	case SubjectBootstrap:
		count, err := m.store.UserCount(ctx)
		if err != nil {
			return Principal{}, err
		}
		if count > 0 {
			return Principal{}, fault.New(fault.AuthFailure, "bootstrap session ended when the first user was created")
		}
		principal.Roles = []string{grant.RoleOwner}
		principal.Grants = []grant.Grant{grant.Unit(grant.Owner)}

	case SubjectUser:
		user, err := m.lookupUser(ctx, entry.Username)
		if err != nil {
			return Principal{}, err
		}
		principal.Roles = user.Roles
		principal.Grants = user.Grants

	case SubjectToken:
		token, err := m.store.GetToken(ctx, entry.TokenID)
		if errors.Is(err, fault.NotFound) {
			return Principal{}, fault.New(fault.AuthFailure, "token no longer exists")
		}
		if err != nil {
			return Principal{}, err
		}
		if err := checkToken(token, now); err != nil {
			return Principal{}, err
		}
		owner, err := m.lookupUser(ctx, token.Username)
		if err != nil {
			return Principal{}, err
		}
		principal.Roles = owner.Roles
		principal.Grants = grant.Restrict(owner.Grants, token.Grants)
	}
	return principal, nil
}

func (m *Manager) lookupUser(ctx context.Context, username string) (identity.User, error) {
	user, err := m.store.GetUser(ctx, username)
	if errors.Is(err, fault.NotFound) {
		return identity.User{}, fault.New(fault.AuthFailure, "user %q no longer exists", username)
	}
	return user, err
}

func checkToken(token identity.Token, now time.Time) error {
	if token.Revoked {
		return fault.New(fault.AuthFailure, "token revoked")
	}
	if token.Expired(now) {
		return fault.New(fault.Expired, "token expired at %s", token.ExpiresAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// drop removes every session matching and returns how many went.
func (m *Manager) drop(match func(*Session) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for id, entry := range m.sessions {
		if match(entry) {
			delete(m.sessions, id)
			dropped++
		}
	}
	return dropped
}

// End closes a session. Ending an unknown session is not an error.
func (m *Manager) End(sessionID string) {
	m.drop(func(s *Session) bool { return s.ID == sessionID })
}

// Sweep removes expired sessions and returns how many were removed.
func (m *Manager) Sweep() int {
	now := m.clock.Now()
	return m.drop(func(s *Session) bool { return s.expired(now) })
}

// Count returns the number of tracked sessions, including expired ones
// not yet swept.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func newSessionID() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("session: generating id: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
