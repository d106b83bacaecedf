package reconcile

import "github.com/sakif/nutrition-tracker/internal/model"

// DefaultMacroGoals are the daily macro targets (grams) shown next to the
// macro totals: protein 180, carbs 220, fats 70.
var DefaultMacroGoals = model.Macros{Protein: 180, Carbs: 220, Fats: 70}

// Snapshot is everything a dashboard needs, read under one lock so the
// numbers agree with each other.
type Snapshot struct {
	Stats       model.Stats         `json:"stats"`
	View        model.AggregateView `json:"totals"`
	MacroGoals  model.Macros        `json:"macroGoals"`
	NetCalories int                 `json:"netCalories"`
	// Remaining is DailyCalorieGoal minus NetCalories; negative when over.
	Remaining int `json:"remaining"`
	// Progress is NetCalories as a percentage of the goal, clamped to 0..100.
	Progress float64 `json:"progress"`
	Pending  int     `json:"pending"`
	Stale    int     `json:"stale"`
}

// Snapshot returns the derived dashboard numbers.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Stats:       e.stats,
		View:        e.view,
		MacroGoals:  DefaultMacroGoals,
		NetCalories: e.view.NetCalories(),
	}
	s.Remaining = e.stats.DailyCalorieGoal - s.NetCalories
	if goal := e.stats.DailyCalorieGoal; goal > 0 {
		s.Progress = min(100, max(0, float64(s.NetCalories)/float64(goal)*100))
	}
	for _, rec := range e.entries {
		switch rec.status {
		case StatusPending:
			s.Pending++
		case StatusStale:
			s.Stale++
		}
	}
	return s
}
