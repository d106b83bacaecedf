package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/nutrition-tracker/internal/apperror"
	"github.com/sakif/nutrition-tracker/internal/model"
	"github.com/sakif/nutrition-tracker/internal/repository"
	"github.com/sakif/nutrition-tracker/internal/storage"
)

var _ repository.AccountRepository = (*AccountStore)(nil)

// AccountStore implements repository.AccountRepository.
type AccountStore struct {
	store *Store
}

const accountColumns = `id, email, credential_hash, display_name, created_at`

// CreateWithStats inserts the account row and its Stats row in one
// transaction. If the stats insert fails the account insert is rolled back,
// so an account never exists without stats.
//
// RETURNING id is supported by both backends, which lets us read the
// generated key without a second round trip (and without LastInsertId,
// which lib/pq does not implement).
func (a *AccountStore) CreateWithStats(ctx context.Context, account *model.Account, stats model.Stats) error {
	createdAt := a.store.now().UTC().Truncate(time.Millisecond)

	err := a.store.db.InTx(ctx, func(tx storage.Executor) error {
		res, err := tx.Execute(ctx,
			`INSERT INTO accounts (email, credential_hash, display_name, created_at)
			 VALUES (?, ?, ?, ?) RETURNING id`,
			account.Email,
			account.CredentialHash,
			account.DisplayName,
			toMillis(createdAt),
		)
		if err != nil {
			return err
		}
		row, ok := singleRow(res)
		if !ok {
			return errors.New("insert returned no id")
		}
		id, err := row.Int64("id")
		if err != nil {
			return columnErr("accounts", err)
		}

		_, err = tx.Execute(ctx,
			`INSERT INTO stats (account_id, current_weight, goal_weight, daily_calorie_goal, streak_days, junk_food_free_days)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id,
			stats.CurrentWeight,
			stats.GoalWeight,
			stats.DailyCalorieGoal,
			stats.StreakDays,
			stats.JunkFoodFreeDays,
		)
		if err != nil {
			return err
		}

		account.ID = id
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return apperror.Duplicate("account", "email", account.Email)
		}
		return fmt.Errorf("sqlstore: creating account: %w", err)
	}

	account.CreatedAt = createdAt
	return nil
}

// GetByEmail looks an account up by its (already normalized) email.
func (a *AccountStore) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	res, err := a.store.db.Execute(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: getting account by email: %w", err)
	}
	row, ok := singleRow(res)
	if !ok {
		return nil, apperror.NotFound("account", email)
	}
	return scanAccount(row)
}

// GetByID looks an account up by primary key.
func (a *AccountStore) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	res, err := a.store.db.Execute(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: getting account %d: %w", id, err)
	}
	row, ok := singleRow(res)
	if !ok {
		return nil, apperror.NotFound("account", strconv.FormatInt(id, 10))
	}
	return scanAccount(row)
}

func scanAccount(row storage.Row) (*model.Account, error) {
	id, err := row.Int64("id")
	if err != nil {
		return nil, columnErr("accounts", err)
	}
	createdAt, err := row.Int64("created_at")
	if err != nil {
		return nil, columnErr("accounts", err)
	}
	return &model.Account{
		ID:             id,
		Email:          row.String("email"),
		CredentialHash: row.String("credential_hash"),
		DisplayName:    row.String("display_name"),
		CreatedAt:      fromMillis(createdAt),
	}, nil
}
