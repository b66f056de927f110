// internal/repository/mongo/workout_repo.go
package mongo

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fitlog/workout-tracker/internal/domain"
	"fitlog/workout-tracker/internal/repository"
)

const workoutCollectionName = "workouts"

// mongoWorkoutStore implements repository.WorkoutStore over the workouts
// and user-data collections.
type mongoWorkoutStore struct {
	workouts     *mongo.Collection
	users        *mongo.Collection
	pollInterval time.Duration
}

// NewMongoWorkoutStore creates a new workout store.
func NewMongoWorkoutStore(db *mongo.Database, pollInterval time.Duration) repository.WorkoutStore {
	return &mongoWorkoutStore{
		workouts:     db.Collection(workoutCollectionName),
		users:        db.Collection(userCollectionName),
		pollInterval: pollInterval,
	}
}

// CreateOrReplace writes the whole workout document (upsert).
func (s *mongoWorkoutStore) CreateOrReplace(ctx context.Context, workout *domain.Workout) error {
	if workout.ID == "" || workout.CreatedBy == "" {
		return errors.New("workout requires id and createdBy")
	}
	_, err := s.workouts.ReplaceOne(ctx, bson.M{"_id": workout.ID}, workout, options.Replace().SetUpsert(true))
	return err
}

// GetByID retrieves a single workout by its ID.
func (s *mongoWorkoutStore) GetByID(ctx context.Context, workoutID string) (*domain.Workout, error) {
	var workout domain.Workout
	err := s.workouts.FindOne(ctx, bson.M{"_id": workoutID}).Decode(&workout)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &workout, nil
}

// Delete removes the workout document. A missing document is fine.
func (s *mongoWorkoutStore) Delete(ctx context.Context, workoutID string) error {
	_, err := s.workouts.DeleteOne(ctx, bson.M{"_id": workoutID})
	return err
}

// LinkToUser adds workoutID to the user's workouts array.
func (s *mongoWorkoutStore) LinkToUser(ctx context.Context, workoutID, userID string) error {
	return s.updateUser(ctx, userID, bson.M{
		"$addToSet": bson.M{"workouts": workoutID}, // $addToSet prevents duplicates
		"$set":      bson.M{"updatedAt": time.Now().UTC()},
	})
}

// UnlinkFromUser removes workoutID from the user's workouts array.
func (s *mongoWorkoutStore) UnlinkFromUser(ctx context.Context, workoutID, userID string) error {
	return s.updateUser(ctx, userID, bson.M{
		"$pull": bson.M{"workouts": workoutID},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
}

func (s *mongoWorkoutStore) updateUser(ctx context.Context, userID string, update bson.M) error {
	result, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// WorkoutIDs reads the user's workouts array.
func (s *mongoWorkoutStore) WorkoutIDs(ctx context.Context, userID string) ([]string, error) {
	var doc struct {
		Workouts []string `bson:"workouts"`
	}
	opts := options.FindOne().SetProjection(bson.M{"workouts": 1})
	err := s.users.FindOne(ctx, bson.M{"_id": userID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return doc.Workouts, nil
}

// Subscribe reports the user's workout id list whenever it changes.
func (s *mongoWorkoutStore) Subscribe(ctx context.Context, userID string, onChange func([]string)) error {
	var last []string
	first := true
	watchUser(ctx, s.users, userID, s.pollInterval, func(user *domain.UserProfile) {
		var ids []string
		if user != nil {
			ids = user.Workouts
		}
		if !first && slices.Equal(ids, last) {
			return
		}
		first = false
		last = ids
		onChange(slices.Clone(ids))
	})
	return nil
}

// EnsureWorkoutIndexes creates necessary indexes. Call during startup.
func EnsureWorkoutIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "createdBy", Value: 1}, {Key: "startTime", Value: -1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
