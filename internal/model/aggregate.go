package model

// AggregateView is the derived running total over an account's LogEntry set.
// It is never persisted; it must always equal Fold over the full set.
type AggregateView struct {
	CaloriesConsumed int    `json:"caloriesConsumed"`
	CaloriesBurned   int    `json:"caloriesBurned"`
	MacroTotals      Macros `json:"macros"`
}

// Add folds one entry into the view. This is the only place totals are
// changed; Fold and the reconciliation engine both go through it.
func (v *AggregateView) Add(e LogEntry) {
	switch e.Kind {
	case KindMeal:
		v.CaloriesConsumed += e.Calories
		v.MacroTotals.Protein += e.Macros.Protein
		v.MacroTotals.Carbs += e.Macros.Carbs
		v.MacroTotals.Fats += e.Macros.Fats
	case KindExercise:
		v.CaloriesBurned += e.Calories
	}
}

// NetCalories is consumed minus burned.
func (v AggregateView) NetCalories() int {
	return v.CaloriesConsumed - v.CaloriesBurned
}

// Fold computes the view over a set of entries. The caller is responsible
// for passing each entry id once.
func Fold(entries []LogEntry) AggregateView {
	var v AggregateView
	for _, e := range entries {
		v.Add(e)
	}
	return v
}
