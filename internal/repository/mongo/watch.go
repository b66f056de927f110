package mongo

import (
	"context"
	"errors"
	"log"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fitlog/workout-tracker/internal/domain"
)

// Default interval for polling when change streams are not available
// (standalone servers do not support them).
const defaultPollInterval = 5 * time.Second

// userChangeEvent is the subset of a change stream event we decode.
type userChangeEvent struct {
	OperationType string              `bson:"operationType"`
	FullDocument  *domain.UserProfile `bson:"fullDocument"`
}

// userReader reads the current user-data document; nil, nil means it does not exist.
type userReader func(ctx context.Context) (*domain.UserProfile, error)

// watchUser delivers the user-data document with the given id now and after
// every change until ctx is done. A nil profile means the document is gone.
// Callbacks run on a single goroutine, one at a time.
func watchUser(ctx context.Context, collection *mongo.Collection, userID string, pollInterval time.Duration, onChange func(*domain.UserProfile)) {
	read := func(ctx context.Context) (*domain.UserProfile, error) {
		return findUser(ctx, collection, userID)
	}
	stream := func(ctx context.Context, onChange func(*domain.UserProfile)) error {
		return streamUser(ctx, collection, userID, read, onChange)
	}
	go followUser(ctx, userID, pollInterval, read, stream, onChange)
}

// followUser delivers the first successful read, then follows stream and
// falls back to polling read when the stream cannot be opened or breaks.
// A failed read is never reported as a missing document.
func followUser(ctx context.Context, userID string, pollInterval time.Duration, read userReader, stream func(context.Context, func(*domain.UserProfile)) error, onChange func(*domain.UserProfile)) {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	last, err := read(ctx)
	known := err == nil
	if known {
		onChange(last)
	} else if ctx.Err() == nil {
		log.Printf("ERROR: Initial read of user '%s' failed: %v", userID, err)
	}

	if err := stream(ctx, onChange); err != nil && ctx.Err() == nil {
		log.Printf("WARN: Change stream for user '%s' unavailable, polling every %s: %v", userID, pollInterval, err)
		pollUser(ctx, userID, pollInterval, read, last, known, onChange)
	}
}

func streamUser(ctx context.Context, collection *mongo.Collection, userID string, read userReader, onChange func(*domain.UserProfile)) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: userID}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := collection.Watch(ctx, pipeline, opts)
	if err != nil {
		return err
	}
	defer stream.Close(context.Background())

	for stream.Next(ctx) {
		var ev userChangeEvent
		if err := stream.Decode(&ev); err != nil {
			log.Printf("ERROR: Failed to decode change event for user '%s': %v", userID, err)
			continue
		}
		switch ev.OperationType {
		case "delete":
			onChange(nil)
		default:
			profile := ev.FullDocument
			if profile == nil {
				// update lookup can miss; read the document directly
				if profile, err = read(ctx); err != nil {
					log.Printf("ERROR: Failed to read user '%s' after change: %v", userID, err)
					continue
				}
			}
			onChange(profile)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return stream.Err()
}

// pollUser delivers every successful read that differs from last. When known
// is false nothing has been delivered yet, so the first successful read is.
func pollUser(ctx context.Context, userID string, interval time.Duration, read userReader, last *domain.UserProfile, known bool, onChange func(*domain.UserProfile)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		current, err := read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("ERROR: Polling user '%s' failed: %v", userID, err)
			}
			continue
		}
		if known && reflect.DeepEqual(current, last) {
			continue
		}
		last, known = current, true
		onChange(current)
	}
}

// findUser returns nil, nil when the document does not exist.
func findUser(ctx context.Context, collection *mongo.Collection, userID string) (*domain.UserProfile, error) {
	var user domain.UserProfile
	err := collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
