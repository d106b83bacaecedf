package sqlstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sakif/nutrition-tracker/internal/apperror"
	"github.com/sakif/nutrition-tracker/internal/model"
	"github.com/sakif/nutrition-tracker/internal/repository"
	"github.com/sakif/nutrition-tracker/internal/storage"
)

var _ repository.StatsRepository = (*StatsStore)(nil)

// StatsStore implements repository.StatsRepository.
type StatsStore struct {
	store *Store
}

// Get returns the Stats row for an account.
func (s *StatsStore) Get(ctx context.Context, accountID int64) (*model.Stats, error) {
	res, err := s.store.db.Execute(ctx,
		`SELECT account_id, current_weight, goal_weight, daily_calorie_goal, streak_days, junk_food_free_days
		 FROM stats WHERE account_id = ?`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: getting stats for account %d: %w", accountID, err)
	}
	row, ok := singleRow(res)
	if !ok {
		return nil, apperror.NotFound("stats", strconv.FormatInt(accountID, 10))
	}
	return scanStats(row)
}

// UpdateWeight overwrites current_weight. This is a plain replace: the most
// recent write wins and there is no version check.
func (s *StatsStore) UpdateWeight(ctx context.Context, accountID int64, weight float64) error {
	res, err := s.store.db.Execute(ctx,
		`UPDATE stats SET current_weight = ? WHERE account_id = ?`,
		weight, accountID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: updating weight for account %d: %w", accountID, err)
	}
	if res.Affected == 0 {
		return apperror.NotFound("stats", strconv.FormatInt(accountID, 10))
	}
	return nil
}

func scanStats(row storage.Row) (*model.Stats, error) {
	var (
		st  model.Stats
		err error
	)
	if st.AccountID, err = row.Int64("account_id"); err != nil {
		return nil, columnErr("stats", err)
	}
	if st.CurrentWeight, err = row.Float64("current_weight"); err != nil {
		return nil, columnErr("stats", err)
	}
	if st.GoalWeight, err = row.Float64("goal_weight"); err != nil {
		return nil, columnErr("stats", err)
	}
	if st.DailyCalorieGoal, err = row.Int("daily_calorie_goal"); err != nil {
		return nil, columnErr("stats", err)
	}
	if st.StreakDays, err = row.Int("streak_days"); err != nil {
		return nil, columnErr("stats", err)
	}
	if st.JunkFoodFreeDays, err = row.Int("junk_food_free_days"); err != nil {
		return nil, columnErr("stats", err)
	}
	return &st, nil
}
