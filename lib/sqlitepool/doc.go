// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the agent's SQLite database.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Every connection is
// prepared with the same pragmas: WAL journal, synchronous=FULL
// (identity changes such as a revocation must survive power loss),
// a 5 second busy timeout, and foreign keys enabled.
//
// Schema changes are expressed as an ordered list of [Migration]
// values. [Pool.Migrate] applies the ones not yet recorded in the
// migrations table, each in its own immediate transaction:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{Path: dbPath, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	if err := pool.Migrate(ctx, identityMigrations); err != nil {
//	    pool.Close()
//	    return err
//	}
//
// Connections are not safe for concurrent use: Take one per goroutine
// and Put it back when finished.
package sqlitepool
