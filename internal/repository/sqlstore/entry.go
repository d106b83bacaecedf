package sqlstore

import (
	"context"
	"fmt"

	"github.com/sakif/nutrition-tracker/internal/apperror"
	"github.com/sakif/nutrition-tracker/internal/model"
	"github.com/sakif/nutrition-tracker/internal/repository"
	"github.com/sakif/nutrition-tracker/internal/storage"
)

var _ repository.EntryRepository = (*EntryStore)(nil)

// EntryStore implements repository.EntryRepository.
type EntryStore struct {
	store *Store
}

const entryColumns = `id, account_id, kind, label, calories, protein, carbs, fats, logged_at, preparation_note`

// Append inserts the entry keyed by its client-generated id.
//
// IDEMPOTENT INSERT:
// The same entry can arrive twice (a client retry after a timeout, a replay
// after reconnect). ON CONFLICT (id) DO NOTHING turns the second insert into
// a no-op on both backends instead of a unique violation, and the affected
// count tells us which case we hit.
func (e *EntryStore) Append(ctx context.Context, entry model.LogEntry) (bool, error) {
	var note any
	if entry.PreparationNote != "" {
		note = entry.PreparationNote
	}

	res, err := e.store.db.Execute(ctx,
		`INSERT INTO log_entries (id, account_id, kind, label, calories, protein, carbs, fats, logged_at, preparation_note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		entry.ID,
		entry.AccountID,
		string(entry.Kind),
		entry.Label,
		entry.Calories,
		entry.Macros.Protein,
		entry.Macros.Carbs,
		entry.Macros.Fats,
		toMillis(entry.Timestamp),
		note,
		toMillis(e.store.now()),
	)
	if err != nil {
		return false, fmt.Errorf("sqlstore: appending entry %s: %w", entry.ID, err)
	}
	return res.Affected > 0, nil
}

// GetByID returns a single entry.
func (e *EntryStore) GetByID(ctx context.Context, id string) (*model.LogEntry, error) {
	res, err := e.store.db.Execute(ctx,
		`SELECT `+entryColumns+` FROM log_entries WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: getting entry %s: %w", id, err)
	}
	row, ok := singleRow(res)
	if !ok {
		return nil, apperror.NotFound("log entry", id)
	}
	entry, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByAccount returns all entries for accountID, newest first. Entries with
// the same timestamp are ordered by id so the result is stable.
func (e *EntryStore) ListByAccount(ctx context.Context, accountID int64) ([]model.LogEntry, error) {
	res, err := e.store.db.Execute(ctx,
		`SELECT `+entryColumns+` FROM log_entries
		 WHERE account_id = ?
		 ORDER BY logged_at DESC, id DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing entries for account %d: %w", accountID, err)
	}

	entries := make([]model.LogEntry, 0, len(res.Rows))
	for _, row := range res.Rows {
		entry, err := scanEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func scanEntry(row storage.Row) (model.LogEntry, error) {
	var (
		le  model.LogEntry
		ms  int64
		err error
	)
	le.ID = row.String("id")
	le.Kind = model.EntryKind(row.String("kind"))
	le.Label = row.String("label")
	le.PreparationNote = row.String("preparation_note")

	if le.AccountID, err = row.Int64("account_id"); err != nil {
		return le, columnErr("log_entries", err)
	}
	if le.Calories, err = row.Int("calories"); err != nil {
		return le, columnErr("log_entries", err)
	}
	if le.Macros.Protein, err = row.Int("protein"); err != nil {
		return le, columnErr("log_entries", err)
	}
	if le.Macros.Carbs, err = row.Int("carbs"); err != nil {
		return le, columnErr("log_entries", err)
	}
	if le.Macros.Fats, err = row.Int("fats"); err != nil {
		return le, columnErr("log_entries", err)
	}
	if ms, err = row.Int64("logged_at"); err != nil {
		return le, columnErr("log_entries", err)
	}
	le.Timestamp = fromMillis(ms)
	return le, nil
}
