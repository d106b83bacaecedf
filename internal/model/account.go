// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// Account is the identity record. It is the ownership root: Stats and every
// LogEntry belong to exactly one Account and are removed with it.
//
// CredentialHash is the opaque output of the credential store (bcrypt). It is
// tagged json:"-" so it can never leak through an API response.
type Account struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email"`
	CredentialHash string    `json:"-"`
	DisplayName    string    `json:"name"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Stats is the per-account mutable snapshot, keyed 1:1 by AccountID.
//
// StreakDays and JunkFoodFreeDays are stored and returned as-is; nothing in
// this codebase derives them from LogEntry history.
type Stats struct {
	AccountID        int64   `json:"accountId"`
	CurrentWeight    float64 `json:"weight"`
	GoalWeight       float64 `json:"goalWeight"`
	DailyCalorieGoal int     `json:"dailyCalorieGoal"`
	StreakDays       int     `json:"streak"`
	JunkFoodFreeDays int     `json:"junkFoodFreeDays"`
}

// Registration defaults for a fresh Stats row.
const (
	DefaultCurrentWeight    = 78.5
	DefaultGoalWeight       = 72.0
	DefaultDailyCalorieGoal = 2200
)

// DefaultStats returns the Stats row created together with a new account.
func DefaultStats(accountID int64) Stats {
	return Stats{
		AccountID:        accountID,
		CurrentWeight:    DefaultCurrentWeight,
		GoalWeight:       DefaultGoalWeight,
		DailyCalorieGoal: DefaultDailyCalorieGoal,
	}
}
