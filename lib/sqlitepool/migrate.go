// Copyright 2026 The PuppyAgent Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Migration is one forward-only schema step. Versions must be unique
// and increasing; a version, once shipped, never changes meaning.
type Migration struct {
	Version int
	Name    string
	Script  string
}

const migrationsTable = `
CREATE TABLE IF NOT EXISTS migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at INTEGER NOT NULL DEFAULT (unixepoch())
)`

// Migrate applies every migration whose version is not yet recorded.
// Each migration and its bookkeeping row commit together.
func (p *Pool) Migrate(ctx context.Context, migrations []Migration) error {
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			return fmt.Errorf("sqlitepool: migration %d (%s) is not after %d",
				migrations[i].Version, migrations[i].Name, migrations[i-1].Version)
		}
	}

	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, migrationsTable, nil); err != nil {
		return fmt.Errorf("sqlitepool: creating migrations table: %w", err)
	}

	current, err := SchemaVersion(conn)
	if err != nil {
		return err
	}
	for _, migration := range migrations {
		if migration.Version <= current {
			continue
		}
		if err := applyMigration(conn, migration); err != nil {
			return fmt.Errorf("sqlitepool: migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		p.logger.Info("applied schema migration",
			"path", p.path,
			"version", migration.Version,
			"name", migration.Name,
		)
	}
	return nil
}

func applyMigration(conn *sqlite.Conn, migration Migration) (err error) {
	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return err
	}
	defer endFn(&err)

	if err := sqlitex.ExecuteScript(conn, migration.Script, nil); err != nil {
		return err
	}
	return sqlitex.Execute(conn,
		"INSERT INTO migrations (version, name) VALUES (?, ?)",
		&sqlitex.ExecOptions{Args: []any{migration.Version, migration.Name}})
}

// SchemaVersion returns the highest applied migration version, or 0.
func SchemaVersion(conn *sqlite.Conn) (int, error) {
	version := 0
	err := sqlitex.Execute(conn, "SELECT COALESCE(MAX(version), 0) FROM migrations", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitepool: reading schema version: %w", err)
	}
	return version, nil
}
