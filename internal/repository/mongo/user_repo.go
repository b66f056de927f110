package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fitlog/workout-tracker/internal/domain"
	"fitlog/workout-tracker/internal/repository"
)

const userCollectionName = "user-data"

// mongoUserRepository implements the repository.UserRepository interface using MongoDB.
type mongoUserRepository struct {
	collection   *mongo.Collection
	pollInterval time.Duration
}

// NewMongoUserRepository creates a new instance of mongoUserRepository.
// pollInterval is only used when the server cannot open change streams.
func NewMongoUserRepository(db *mongo.Database, pollInterval time.Duration) repository.UserRepository {
	return &mongoUserRepository{
		collection:   db.Collection(userCollectionName),
		pollInterval: pollInterval,
	}
}

// Create inserts a new user-data document.
func (r *mongoUserRepository) Create(ctx context.Context, user *domain.UserProfile) error {
	if user.ID == "" || user.DisplayName == "" {
		return errors.New("user id and display name are required")
	}

	user.DisplayNameLower = domain.NormalizeDisplayName(user.DisplayName)
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Workouts == nil {
		user.Workouts = []string{}
	}

	_, err := r.collection.InsertOne(ctx, user)
	if err != nil {
		// the unique index on displayNameLower closes the check-then-create race
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrDuplicate
		}
		return err
	}
	return nil
}

// GetByID retrieves a user by id.
func (r *mongoUserRepository) GetByID(ctx context.Context, id string) (*domain.UserProfile, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

// GetByDisplayName retrieves a user by case-insensitive display name.
func (r *mongoUserRepository) GetByDisplayName(ctx context.Context, displayName string) (*domain.UserProfile, error) {
	return r.findOne(ctx, bson.M{"displayNameLower": domain.NormalizeDisplayName(displayName)})
}

func (r *mongoUserRepository) findOne(ctx context.Context, filter bson.M) (*domain.UserProfile, error) {
	var user domain.UserProfile
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Update sets the non-nil fields of update and unsets photoURL when ClearPhotoURL is set.
func (r *mongoUserRepository) Update(ctx context.Context, id string, update domain.ProfileUpdate) error {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if update.FirstName != nil {
		set["firstName"] = *update.FirstName
	}
	if update.LastName != nil {
		set["lastName"] = *update.LastName
	}
	if update.Height != nil {
		set["height"] = *update.Height
	}
	if update.Weight != nil {
		set["weight"] = *update.Weight
	}
	doc := bson.M{}
	if update.ClearPhotoURL {
		doc["$unset"] = bson.M{"photoURL": ""}
	} else if update.PhotoURL != nil {
		set["photoURL"] = *update.PhotoURL
	}
	doc["$set"] = set

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Watch streams the profile document until ctx is done.
func (r *mongoUserRepository) Watch(ctx context.Context, id string, onChange func(*domain.UserProfile)) error {
	watchUser(ctx, r.collection, id, r.pollInterval, onChange)
	return nil
}

// EnsureUserIndexes creates necessary indexes for the user-data collection.
// Call this once during application startup.
func EnsureUserIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "displayNameLower", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index(),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
