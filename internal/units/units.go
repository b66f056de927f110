// Package units converts body and lifting measurements between the units a
// user sees and the canonical units that are persisted (kilograms, centimeters).
//
// Conversions are lenient: a value that does not parse as a number is
// returned unchanged. Callers that need to reject bad input use ParseMeasurement first.
package units

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"fitlog/workout-tracker/internal/domain"
)

var (
	kgPerPound = decimal.RequireFromString("0.453592")
	cmPerInch  = decimal.RequireFromString("2.54")
	one        = decimal.NewFromInt(1)
)

// ErrInvalidMeasurement is returned by ParseMeasurement for non-numeric or negative input.
var ErrInvalidMeasurement = errors.New("measurement must be a non-negative number")

// ToCanonicalWeight converts value from unit into kilograms.
func ToCanonicalWeight(value string, unit domain.WeightUnit) string {
	if unit != domain.WeightLbs {
		return value
	}
	return scaleCanonical(value, kgPerPound)
}

// ToDisplayWeight renders a kilogram value in unit with zero decimal places.
func ToDisplayWeight(kilograms string, unit domain.WeightUnit) string {
	if unit == domain.WeightLbs {
		return scaleDisplay(kilograms, kgPerPound)
	}
	return scaleDisplay(kilograms, one)
}

// ToCanonicalHeight converts value from unit into centimeters.
func ToCanonicalHeight(value string, unit domain.HeightUnit) string {
	if unit != domain.HeightInches {
		return value
	}
	return scaleCanonical(value, cmPerInch)
}

// ToDisplayHeight renders a centimeter value in unit with zero decimal places.
func ToDisplayHeight(centimeters string, unit domain.HeightUnit) string {
	if unit == domain.HeightInches {
		return scaleDisplay(centimeters, cmPerInch)
	}
	return scaleDisplay(centimeters, one)
}

// ParseMeasurement parses a user-entered measurement strictly.
func ParseMeasurement(value string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, ErrInvalidMeasurement
	}
	return f, nil
}

// WorkoutForDisplay returns a copy of w with every set weight rendered in
// its exercise's unit.
func WorkoutForDisplay(w domain.Workout) domain.Workout {
	out := w.Clone()
	for i := range out.Exercises {
		unit := out.Exercises[i].WeightUnit
		for j := range out.Exercises[i].Sets {
			out.Exercises[i].Sets[j].Weight = ToDisplayWeight(out.Exercises[i].Sets[j].Weight, unit)
		}
	}
	return out
}

// CanonicalExercises converts each set weight of exercises from its
// exercise's unit into kilograms. The input slice is not modified.
func CanonicalExercises(exercises []domain.Exercise) []domain.Exercise {
	out := make([]domain.Exercise, len(exercises))
	for i, ex := range exercises {
		out[i] = ex
		if out[i].WeightUnit == "" {
			out[i].WeightUnit = domain.WeightKg
		}
		out[i].Sets = make([]domain.Set, len(ex.Sets))
		for j, set := range ex.Sets {
			set.Weight = ToCanonicalWeight(set.Weight, ex.WeightUnit)
			out[i].Sets[j] = set
		}
	}
	return out
}

// scaleCanonical multiplies in decimal arithmetic, so the stored value is the
// exact product of the input and factor.
func scaleCanonical(value string, factor decimal.Decimal) string {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return value
	}
	return d.Mul(factor).String()
}

// scaleDisplay divides by factor and rounds half away from zero.
func scaleDisplay(value string, factor decimal.Decimal) string {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return value
	}
	return d.Div(factor).Round(0).String()
}
