package model

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sakif/nutrition-tracker/internal/apperror"
)

// Field limits shared by the server and the client session.
const (
	MaxLabelLength           = 120
	MaxPreparationNoteLength = 500
	MaxWeight                = 1000

	// One entry never legitimately exceeds these. They also keep every
	// value inside a 32-bit INTEGER column, so both backends accept the
	// same rows, and keep the running totals far from overflow.
	MaxCalories = 20000
	MaxMacro    = 2000
)

// Validate checks a draft against the rules every caller must enforce.
// It trims Label and PreparationNote in place.
func (d *EntryDraft) Validate() error {
	d.Label = strings.TrimSpace(d.Label)
	d.PreparationNote = strings.TrimSpace(d.PreparationNote)

	if !d.Kind.Valid() {
		return apperror.ValidationFailed("kind",
			fmt.Sprintf("kind must be %q or %q", KindMeal, KindExercise))
	}
	if d.Label == "" {
		return apperror.ValidationFailed("label", "label is required")
	}
	if utf8.RuneCountInString(d.Label) > MaxLabelLength {
		return apperror.ValidationFailed("label",
			fmt.Sprintf("label must be %d characters or less", MaxLabelLength))
	}
	if d.Calories < 0 {
		return apperror.ValidationFailed("calories", "calories must not be negative")
	}
	if d.Calories > MaxCalories {
		return apperror.ValidationFailed("calories",
			fmt.Sprintf("calories must be %d or less", MaxCalories))
	}
	for _, g := range []int{d.Macros.Protein, d.Macros.Carbs, d.Macros.Fats} {
		if g < 0 {
			return apperror.ValidationFailed("macros", "macros must not be negative")
		}
		if g > MaxMacro {
			return apperror.ValidationFailed("macros",
				fmt.Sprintf("each macro must be %d g or less", MaxMacro))
		}
	}
	if utf8.RuneCountInString(d.PreparationNote) > MaxPreparationNoteLength {
		return apperror.ValidationFailed("preparationNote",
			fmt.Sprintf("preparation note must be %d characters or less", MaxPreparationNoteLength))
	}
	return nil
}

// ValidateWeight rejects weights outside (0, MaxWeight).
func ValidateWeight(w float64) error {
	if w <= 0 || w >= MaxWeight {
		return apperror.ValidationFailed("weight",
			fmt.Sprintf("weight must be between 0 and %d", MaxWeight))
	}
	return nil
}
