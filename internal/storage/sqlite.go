package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteDialect is the embedded single-file backend (modernc.org/sqlite, no cgo).
type sqliteDialect struct{}

func (sqliteDialect) backend() Backend { return SQLite }
func (sqliteDialect) driverName() string { return "sqlite" }
func (sqliteDialect) placeholder(int) string { return "?" }

// configure pins the pool to one connection. SQLite allows one writer at a
// time, and per-connection pragmas (foreign_keys) only hold if the
// connection is never recycled.
func (sqliteDialect) configure(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// classify uses extended result codes: UNIQUE and PRIMARYKEY constraint
// failures are duplicates; CANTOPEN and NOTADB mean the file is unusable.
func (sqliteDialect) classify(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch code {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return ErrDuplicateKey
		}
		switch code & 0xff {
		case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB:
			return ErrConnectionUnavailable
		}
		return ErrStorageFault
	}
	return classifyTransport(err)
}

func (sqliteDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			email           TEXT NOT NULL UNIQUE,
			credential_hash TEXT NOT NULL,
			display_name    TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stats (
			account_id          INTEGER PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
			current_weight      REAL NOT NULL,
			goal_weight         REAL NOT NULL,
			daily_calorie_goal  INTEGER NOT NULL,
			streak_days         INTEGER NOT NULL DEFAULT 0,
			junk_food_free_days INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS log_entries (
			id               TEXT PRIMARY KEY,
			account_id       INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			kind             TEXT NOT NULL CHECK (kind IN ('meal', 'exercise')),
			label            TEXT NOT NULL,
			calories         INTEGER NOT NULL CHECK (calories >= 0),
			protein          INTEGER NOT NULL DEFAULT 0,
			carbs            INTEGER NOT NULL DEFAULT 0,
			fats             INTEGER NOT NULL DEFAULT 0,
			logged_at        INTEGER NOT NULL,
			preparation_note TEXT,
			created_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_account_logged ON log_entries(account_id, logged_at)`,
	}
}
