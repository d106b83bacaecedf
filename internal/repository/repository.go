// Package repository declares the persistence interfaces the services depend
// on. Implementations live in sub-packages (see repository/sqlstore) so the
// services never import a database driver.
package repository

import (
	"context"

	"github.com/sakif/nutrition-tracker/internal/model"
)

// AccountRepository stores identity records.
type AccountRepository interface {
	// CreateWithStats inserts the account and its initial Stats row as one
	// atomic unit. On success account.ID and account.CreatedAt are set.
	// A taken email returns an apperror wrapping apperror.ErrConflict and
	// leaves nothing behind.
	CreateWithStats(ctx context.Context, account *model.Account, stats model.Stats) error
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	GetByID(ctx context.Context, id int64) (*model.Account, error)
}

// StatsRepository stores the per-account mutable snapshot.
type StatsRepository interface {
	Get(ctx context.Context, accountID int64) (*model.Stats, error)
	// UpdateWeight replaces CurrentWeight. Last write wins.
	UpdateWeight(ctx context.Context, accountID int64, weight float64) error
}

// EntryRepository stores the append-only food/exercise log.
type EntryRepository interface {
	// Append inserts entry unless a row with the same ID already exists.
	// created is false when the ID was already present; the stored row is
	// left untouched in that case.
	Append(ctx context.Context, entry model.LogEntry) (created bool, err error)
	GetByID(ctx context.Context, id string) (*model.LogEntry, error)
	// ListByAccount returns every entry for the account, most recent first.
	ListByAccount(ctx context.Context, accountID int64) ([]model.LogEntry, error)
}
