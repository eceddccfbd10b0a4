// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/puppypeer/puppyagent/lib/clock"
	"github.com/puppypeer/puppyagent/lib/codec"
	"github.com/puppypeer/puppyagent/lib/grant"
	"github.com/puppypeer/puppyagent/lib/sqlitepool"
)

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// Clock stamps creation and issuance times. Defaults to the real
	// clock.
	Clock clock.Clock

	// Logger defaults to a discard logger.
	Logger *slog.Logger

	// BcryptCost defaults to bcrypt.DefaultCost. Tests lower it.
	BcryptCost int
}

// Store is the identity database. It is safe for concurrent use.
type Store struct {
	pool       *sqlitepool.Pool
	clock      clock.Clock
	logger     *slog.Logger
	bcryptCost int

	// dummyHash is compared against when a username does not exist,
	// so unknown users cost the same bcrypt work as wrong passwords.
	dummyHash []byte
}

var migrations = []sqlitepool.Migration{
	{
		Version: 1,
		Name:    "users and tokens",
		Script: `
CREATE TABLE users (
	username      TEXT PRIMARY KEY,
	password_hash BLOB NOT NULL,
	grants        BLOB NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE TABLE user_roles (
	username TEXT NOT NULL REFERENCES users(username) ON DELETE CASCADE,
	role     TEXT NOT NULL,
	PRIMARY KEY (username, role)
);
CREATE TABLE tokens (
	token_id      TEXT PRIMARY KEY,
	username      TEXT NOT NULL REFERENCES users(username),
	label         TEXT NOT NULL,
	secret_digest BLOB NOT NULL,
	grants        BLOB NOT NULL,
	issued_at     INTEGER NOT NULL,
	issued_by     TEXT NOT NULL,
	expires_at    INTEGER,
	revoked       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX tokens_by_username ON tokens(username);
`,
	},
}

// Open opens (creating if needed) the identity database and applies
// pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{Path: cfg.Path, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	if err := pool.Migrate(ctx, migrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("identity: %w", err)
	}

	dummyHash, err := bcrypt.GenerateFromPassword([]byte("puppyagent-absent-user"), cost)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("identity: preparing password hasher: %w", err)
	}

	return &Store{
		pool:       pool,
		clock:      clk,
		logger:     logger,
		bcryptCost: cost,
		dummyHash:  dummyHash,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.pool.Close()
}

// withConn runs fn on a pooled connection.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	defer s.pool.Put(conn)
	return fn(conn)
}

// withWrite runs fn inside an immediate transaction, which takes the
// database write lock up front so read-then-write sequences cannot
// interleave with another writer.
func (s *Store) withWrite(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return fmt.Errorf("identity: beginning transaction: %w", err)
		}
		defer endFn(&err)
		return fn(conn)
	})
}

func encodeGrants(grants []grant.Grant) ([]byte, error) {
	data, err := codec.Marshal(grant.Normalize(grants))
	if err != nil {
		return nil, fmt.Errorf("identity: encoding grants: %w", err)
	}
	return data, nil
}

func decodeGrants(stmt *sqlite.Stmt, column int) ([]grant.Grant, error) {
	blob := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, blob)
	var grants []grant.Grant
	if err := codec.Unmarshal(blob, &grants); err != nil {
		return nil, fmt.Errorf("identity: decoding grants: %w", err)
	}
	return grant.Normalize(grants), nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
