// Package sqlstore implements the repository interfaces on top of the
// storage adapter.
//
// Every statement here is written once, with '?' placeholders, and runs
// unchanged on SQLite and Postgres: the adapter rewrites placeholders,
// normalizes result rows and classifies errors. Nothing in this package
// knows which backend is underneath.
//
// TIMESTAMPS:
// Times are stored as Unix milliseconds in BIGINT/INTEGER columns. Both
// backends round-trip an int64 exactly, so an entry read back compares
// equal to the entry that was written (see model.LogEntry.Timestamp).
package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/nutrition-tracker/internal/storage"
)

// DB is what the store needs from the storage layer: plain statements plus
// transactions. *storage.Adapter satisfies it.
type DB interface {
	storage.Executor
	InTx(ctx context.Context, fn func(storage.Executor) error) error
}

var _ DB = (*storage.Adapter)(nil)

// Store groups the per-table repositories over one DB.
//
//	store := sqlstore.New(adapter)
//	accounts := store.Accounts()
//	entries := store.Entries()
type Store struct {
	db  DB
	now func() time.Time
}

// New returns a Store backed by db.
func New(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Accounts returns the account repository.
func (s *Store) Accounts() *AccountStore { return &AccountStore{store: s} }

// Stats returns the stats repository.
func (s *Store) Stats() *StatsStore { return &StatsStore{store: s} }

// Entries returns the log entry repository.
func (s *Store) Entries() *EntryStore { return &EntryStore{store: s} }

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// singleRow returns the only row in res, or ok=false when there is none.
func singleRow(res storage.Result) (storage.Row, bool) {
	if len(res.Rows) == 0 {
		return nil, false
	}
	return res.Rows[0], true
}

// columnErr wraps a conversion failure with the table it came from.
func columnErr(table string, err error) error {
	return fmt.Errorf("sqlstore: decoding %s row: %w", table, err)
}
