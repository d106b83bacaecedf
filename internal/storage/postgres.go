package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/lib/pq"
)

// postgresDialect talks to a networked PostgreSQL server through lib/pq.
type postgresDialect struct{}

func (postgresDialect) backend() Backend { return Postgres }
func (postgresDialect) driverName() string { return "postgres" }
func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) configure(_ context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return nil
}

// classify maps SQLSTATE codes onto storage kinds:
//
//	23505        unique_violation            → ErrDuplicateKey
//	class 08     connection exceptions       → ErrConnectionUnavailable
//	57P01..57P03 admin/crash shutdown, cannot connect now → ErrConnectionUnavailable
func (postgresDialect) classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return ErrDuplicateKey
		case pqErr.Code.Class() == "08":
			return ErrConnectionUnavailable
		case pqErr.Code == "57P01", pqErr.Code == "57P02", pqErr.Code == "57P03":
			return ErrConnectionUnavailable
		}
		return ErrStorageFault
	}
	return classifyTransport(err)
}

func (postgresDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id              BIGSERIAL PRIMARY KEY,
			email           TEXT NOT NULL UNIQUE,
			credential_hash TEXT NOT NULL,
			display_name    TEXT NOT NULL DEFAULT '',
			created_at      BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stats (
			account_id          BIGINT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
			current_weight      DOUBLE PRECISION NOT NULL,
			goal_weight         DOUBLE PRECISION NOT NULL,
			daily_calorie_goal  INTEGER NOT NULL,
			streak_days         INTEGER NOT NULL DEFAULT 0,
			junk_food_free_days INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS log_entries (
			id               TEXT PRIMARY KEY,
			account_id       BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
			kind             TEXT NOT NULL CHECK (kind IN ('meal', 'exercise')),
			label            TEXT NOT NULL,
			calories         INTEGER NOT NULL CHECK (calories >= 0),
			protein          INTEGER NOT NULL DEFAULT 0,
			carbs            INTEGER NOT NULL DEFAULT 0,
			fats             INTEGER NOT NULL DEFAULT 0,
			logged_at        BIGINT NOT NULL,
			preparation_note TEXT,
			created_at       BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_account_logged ON log_entries(account_id, logged_at)`,
	}
}
