package units

import (
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fitlog/workout-tracker/internal/domain"
)

func TestWeightConversion(t *testing.T) {
	assert.Equal(t, "45.3592", ToCanonicalWeight("100", domain.WeightLbs))
	assert.Equal(t, "4.762716", ToCanonicalWeight("10.5", domain.WeightLbs))
	assert.Equal(t, "100", ToCanonicalWeight("100", domain.WeightKg))
	assert.Equal(t, "100", ToDisplayWeight("45.3592", domain.WeightLbs))
	assert.Equal(t, "100", ToDisplayWeight("45.36", domain.WeightLbs))
	assert.Equal(t, "11", ToDisplayWeight("4.762716", domain.WeightLbs))
	assert.Equal(t, "46", ToDisplayWeight("45.6", domain.WeightKg))
}

func TestHeightConversion(t *testing.T) {
	assert.Equal(t, "177.8", ToCanonicalHeight("70", domain.HeightInches))
	assert.Equal(t, "179.07", ToCanonicalHeight("70.5", domain.HeightInches))
	assert.Equal(t, "71", ToDisplayHeight("179.07", domain.HeightInches))
	assert.Equal(t, "180", ToCanonicalHeight("180", domain.HeightCm))
	assert.Equal(t, "70", ToDisplayHeight("177.8", domain.HeightInches))
	assert.Equal(t, "178", ToDisplayHeight("177.8", domain.HeightCm))
}

func TestMalformedInputPassesThrough(t *testing.T) {
	for _, in := range []string{"", "abc", "12kg", "1,5"} {
		assert.Equal(t, in, ToCanonicalWeight(in, domain.WeightLbs))
		assert.Equal(t, in, ToDisplayWeight(in, domain.WeightLbs))
		assert.Equal(t, in, ToCanonicalHeight(in, domain.HeightInches))
		assert.Equal(t, in, ToDisplayHeight(in, domain.HeightInches))
	}
}

func TestWeightRoundTripMatchesRoundedInput(t *testing.T) {
	units := []domain.WeightUnit{domain.WeightKg, domain.WeightLbs}
	for _, unit := range units {
		for i := 0; i <= 4000; i++ {
			w := float64(i) / 4
			in := strconv.FormatFloat(w, 'f', -1, 64)
			got := ToDisplayWeight(ToCanonicalWeight(in, unit), unit)
			want := strconv.FormatFloat(math.Round(w), 'f', 0, 64)
			assert.Equal(t, want, got, "unit=%s w=%s", unit, in)
		}
	}
}

func TestHeightRoundTripMatchesRoundedInput(t *testing.T) {
	for i := 0; i <= 1000; i++ {
		h := float64(i) / 4
		in := strconv.FormatFloat(h, 'f', -1, 64)
		got := ToDisplayHeight(ToCanonicalHeight(in, domain.HeightInches), domain.HeightInches)
		assert.Equal(t, strconv.FormatFloat(math.Round(h), 'f', 0, 64), got, "h=%s", in)
	}
}

func TestParseMeasurement(t *testing.T) {
	v, err := ParseMeasurement(" 72.5 ")
	assert.NoError(t, err)
	assert.Equal(t, 72.5, v)

	for _, in := range []string{"", "abc", "-1", "NaN", "Inf"} {
		_, err := ParseMeasurement(in)
		assert.ErrorIs(t, err, ErrInvalidMeasurement, in)
	}
}

func TestCanonicalExercisesUsesEachExerciseUnit(t *testing.T) {
	in := []domain.Exercise{
		{ID: "a", Name: "Squat", WeightUnit: domain.WeightLbs, Sets: []domain.Set{{ID: "s1", Weight: "100", Reps: "5"}}},
		{ID: "b", Name: "Bench", WeightUnit: domain.WeightKg, Sets: []domain.Set{{ID: "s2", Weight: "60", Reps: "8"}}},
		{ID: "c", Name: "Row", Sets: []domain.Set{{ID: "s3", Weight: "40"}}},
	}
	out := CanonicalExercises(in)

	assert.Equal(t, "45.3592", out[0].Sets[0].Weight)
	assert.Equal(t, "60", out[1].Sets[0].Weight)
	assert.Equal(t, "40", out[2].Sets[0].Weight)
	assert.Equal(t, domain.WeightKg, out[2].WeightUnit)
	assert.Equal(t, "100", in[0].Sets[0].Weight, "input must not be mutated")
}

func TestWorkoutForDisplay(t *testing.T) {
	w := domain.Workout{
		ID:        "w1",
		StartTime: time.Now(),
		Exercises: []domain.Exercise{
			{WeightUnit: domain.WeightLbs, Sets: []domain.Set{{Weight: "45.36"}}},
		},
	}
	out := WorkoutForDisplay(w)
	assert.Equal(t, "100", out.Exercises[0].Sets[0].Weight)
	assert.Equal(t, "45.36", w.Exercises[0].Sets[0].Weight)
}
