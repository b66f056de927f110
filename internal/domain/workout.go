package domain

import (
	"time"

	"github.com/google/uuid"
)

// WeightUnit is the unit a weight value is entered or displayed in.
type WeightUnit string

const (
	WeightKg  WeightUnit = "kg"
	WeightLbs WeightUnit = "lbs"
)

// HeightUnit is the unit a height value is entered or displayed in.
type HeightUnit string

const (
	HeightCm     HeightUnit = "cm"
	HeightInches HeightUnit = "in"
)

// Set is one performed set of an exercise.
// Weight is a decimal string whose unit is given by the parent Exercise.
type Set struct {
	ID     string `bson:"id" json:"id"`
	Weight string `bson:"weight" json:"weight"`
	Reps   string `bson:"reps" json:"reps"`
	Notes  string `bson:"notes" json:"notes"`
}

// Exercise is a named movement holding an ordered list of sets.
type Exercise struct {
	ID         string     `bson:"id" json:"id"`
	Name       string     `bson:"name" json:"name"`
	Sets       []Set      `bson:"sets" json:"sets"`
	WeightUnit WeightUnit `bson:"weightUnit" json:"weightUnit"`
}

// Workout is the persisted aggregate. Set weights are always stored in kilograms.
type Workout struct {
	ID          string     `bson:"_id" json:"id"`
	Name        string     `bson:"name" json:"name"`
	StartTime   time.Time  `bson:"startTime" json:"startTime"`
	EndTime     *time.Time `bson:"endTime,omitempty" json:"endTime,omitempty"`
	Duration    *int       `bson:"duration,omitempty" json:"duration,omitempty"` // minutes
	Description string     `bson:"description" json:"description"`
	Exercises   []Exercise `bson:"exercises" json:"exercises"`
	CreatedBy   string     `bson:"createdBy" json:"createdBy"`
}

// DurationMinutes returns the whole minutes between start and end,
// or nil when the workout has not been finished.
func DurationMinutes(start time.Time, end *time.Time) *int {
	if end == nil {
		return nil
	}
	minutes := int(end.Sub(start) / time.Minute)
	return &minutes
}

// RecomputeDuration refreshes Duration from StartTime and EndTime.
func (w *Workout) RecomputeDuration() {
	w.Duration = DurationMinutes(w.StartTime, w.EndTime)
}

// Clone returns a deep copy so callers can mutate it freely.
func (w Workout) Clone() Workout {
	out := w
	if w.EndTime != nil {
		end := *w.EndTime
		out.EndTime = &end
	}
	if w.Duration != nil {
		d := *w.Duration
		out.Duration = &d
	}
	out.Exercises = cloneExercises(w.Exercises)
	return out
}

func cloneExercises(in []Exercise) []Exercise {
	if in == nil {
		return nil
	}
	out := make([]Exercise, len(in))
	for i, ex := range in {
		out[i] = ex
		if ex.Sets != nil {
			out[i].Sets = append([]Set(nil), ex.Sets...)
		}
	}
	return out
}

// WorkoutDraft is the mutable, not yet persisted state of a workout being logged.
// Set weights are in each exercise's own WeightUnit.
type WorkoutDraft struct {
	Name        string     `json:"name"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Description string     `json:"description"`
	Exercises   []Exercise `json:"exercises"`
}

// NewWorkoutDraft returns an empty draft starting at now.
func NewWorkoutDraft(now time.Time) WorkoutDraft {
	return WorkoutDraft{StartTime: now}
}

// Clone returns a deep copy of the draft.
func (d WorkoutDraft) Clone() WorkoutDraft {
	out := d
	if d.EndTime != nil {
		end := *d.EndTime
		out.EndTime = &end
	}
	out.Exercises = cloneExercises(d.Exercises)
	return out
}

// AddExercise appends a new exercise with a fresh id and returns that id.
func (d *WorkoutDraft) AddExercise(name string, unit WeightUnit) string {
	if unit == "" {
		unit = WeightKg
	}
	ex := Exercise{ID: uuid.NewString(), Name: name, WeightUnit: unit}
	d.Exercises = append(d.Exercises, ex)
	return ex.ID
}

// AddSet appends a set to the exercise with the given id. It reports false
// when the exercise does not exist.
func (d *WorkoutDraft) AddSet(exerciseID, weight, reps, notes string) bool {
	for i := range d.Exercises {
		if d.Exercises[i].ID == exerciseID {
			d.Exercises[i].Sets = append(d.Exercises[i].Sets, Set{
				ID:     uuid.NewString(),
				Weight: weight,
				Reps:   reps,
				Notes:  notes,
			})
			return true
		}
	}
	return false
}

// RemoveExercise drops an exercise and, with it, all of its sets.
func (d *WorkoutDraft) RemoveExercise(exerciseID string) {
	kept := d.Exercises[:0]
	for _, ex := range d.Exercises {
		if ex.ID != exerciseID {
			kept = append(kept, ex)
		}
	}
	d.Exercises = kept
}

// DraftSummary is what the finish screen shows before the draft is saved.
type DraftSummary struct {
	Name          string `json:"name"`
	Duration      *int   `json:"duration,omitempty"`
	ExerciseCount int    `json:"exerciseCount"`
}

// Summary reports the draft's name, derived duration and exercise count.
func (d WorkoutDraft) Summary() DraftSummary {
	return DraftSummary{
		Name:          d.Name,
		Duration:      DurationMinutes(d.StartTime, d.EndTime),
		ExerciseCount: len(d.Exercises),
	}
}
