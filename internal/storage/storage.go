package storage

import (
	"context"
	"errors"
	"path"
	"time"
)

// Default expiry duration for presigned URLs
const DefaultPresignedURLExpiry = 15 * time.Minute

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found in storage")

// FileStorage defines the interface for object storage operations.
type FileStorage interface {
	// Upload stores body under objectKey and returns a URL the object can be read from.
	Upload(ctx context.Context, objectKey string, contentType string, body []byte) (string, error)

	// Download reads the object stored under objectKey.
	Download(ctx context.Context, objectKey string) ([]byte, error)

	// GeneratePresignedDownloadURL creates a temporary URL that allows GET requests
	// for downloading/viewing an object directly from the storage provider.
	GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)

	// DeleteObject removes an object from the storage provider.
	DeleteObject(ctx context.Context, objectKey string) error
}

// ProfilePictureKey is where a user's avatar lives.
func ProfilePictureKey(userID string) string {
	return path.Join("profile_pictures", userID+".jpg")
}
