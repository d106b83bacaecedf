package model

import "time"

// EntryKind separates intake from expenditure.
type EntryKind string

const (
	KindMeal     EntryKind = "meal"
	KindExercise EntryKind = "exercise"
)

// Valid reports whether k is one of the known kinds.
func (k EntryKind) Valid() bool {
	return k == KindMeal || k == KindExercise
}

// Macros are grams of protein, carbohydrate and fat. Exercise entries carry
// the zero value.
type Macros struct {
	Protein int `json:"protein"`
	Carbs   int `json:"carbs"`
	Fats    int `json:"fats"`
}

// LogEntry is an immutable fact in an account's append-only log.
//
// ID is generated by the client before any server round trip and is the only
// deduplication key: the same ID may be seen more than once (local apply plus
// broadcast echo, reconnect replay) and must count once.
type LogEntry struct {
	ID              string    `json:"id"`
	AccountID       int64     `json:"accountId"`
	Kind            EntryKind `json:"kind"`
	Label           string    `json:"label"`
	Calories        int       `json:"calories"`
	Macros          Macros    `json:"macros"`
	Timestamp       time.Time `json:"timestamp"`
	PreparationNote string    `json:"preparationNote,omitempty"`
}

// EntryDraft is what a user submits before an id and timestamp are assigned.
type EntryDraft struct {
	Kind            EntryKind `json:"kind"`
	Label           string    `json:"label"`
	Calories        int       `json:"calories"`
	Macros          Macros    `json:"macros"`
	PreparationNote string    `json:"preparationNote,omitempty"`
}

// Entry builds the LogEntry for a draft once id and capture time are known.
func (d EntryDraft) Entry(id string, accountID int64, at time.Time) LogEntry {
	e := LogEntry{
		ID:              id,
		AccountID:       accountID,
		Kind:            d.Kind,
		Label:           d.Label,
		Calories:        d.Calories,
		Macros:          d.Macros,
		Timestamp:       at,
		PreparationNote: d.PreparationNote,
	}
	if e.Kind == KindExercise {
		e.Macros = Macros{}
	}
	return e
}
