package repository

import (
	"context"

	"fitlog/workout-tracker/internal/domain"
)

// Error constants for repository layer
var (
	ErrNotFound  = RepositoryError("not found")
	ErrDuplicate = RepositoryError("duplicate key")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// WorkoutStore wraps the remote document database for workouts and the
// workout id list kept on each user-data document. It never retries;
// callers decide what to do with a failure.
type WorkoutStore interface {
	// CreateOrReplace writes the full workout document at workouts/{id}.
	CreateOrReplace(ctx context.Context, workout *domain.Workout) error
	GetByID(ctx context.Context, workoutID string) (*domain.Workout, error)
	// Delete removes workouts/{id}. Deleting a missing document is not an error.
	Delete(ctx context.Context, workoutID string) error
	// LinkToUser adds workoutID to the user's workouts array (set union).
	LinkToUser(ctx context.Context, workoutID, userID string) error
	// UnlinkFromUser removes workoutID from the user's workouts array.
	UnlinkFromUser(ctx context.Context, workoutID, userID string) error
	// WorkoutIDs reads the user's workouts array once.
	WorkoutIDs(ctx context.Context, userID string) ([]string, error)
	// Subscribe calls onChange with the current id list and again whenever it
	// changes, until ctx is done. Callbacks are delivered one at a time.
	Subscribe(ctx context.Context, userID string, onChange func(workoutIDs []string)) error
}

// UserRepository manages user-data profile documents.
type UserRepository interface {
	Create(ctx context.Context, user *domain.UserProfile) error
	GetByID(ctx context.Context, id string) (*domain.UserProfile, error)
	// GetByDisplayName looks a user up by case-insensitive display name.
	GetByDisplayName(ctx context.Context, displayName string) (*domain.UserProfile, error)
	Update(ctx context.Context, id string, update domain.ProfileUpdate) error
	// Watch calls onChange with the current profile and on every change until ctx is done.
	Watch(ctx context.Context, id string, onChange func(profile *domain.UserProfile)) error
}

// AccountRepository stores credentials for the auth provider.
type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	Delete(ctx context.Context, id string) error
}
