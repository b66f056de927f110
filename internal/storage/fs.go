package storage

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// fsStorage keeps objects as files under a root directory. It is used when no
// bucket is configured (local development and the memory database mode).
type fsStorage struct {
	fs   afero.Fs
	root string
}

// NewFSStorage stores objects under root on fs.
func NewFSStorage(fs afero.Fs, root string) FileStorage {
	return &fsStorage{fs: fs, root: root}
}

func (s *fsStorage) path(objectKey string) string {
	return filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+objectKey)))
}

func (s *fsStorage) Upload(ctx context.Context, objectKey string, contentType string, body []byte) (string, error) {
	p := s.path(objectKey)
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	if err := afero.WriteFile(s.fs, p, body, 0o644); err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(p), nil
}

func (s *fsStorage) Download(ctx context.Context, objectKey string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.path(objectKey))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	return data, err
}

func (s *fsStorage) GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	if _, err := s.fs.Stat(s.path(objectKey)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrObjectNotFound
		}
		return "", err
	}
	return "file://" + filepath.ToSlash(s.path(objectKey)), nil
}

func (s *fsStorage) DeleteObject(ctx context.Context, objectKey string) error {
	err := s.fs.Remove(s.path(objectKey))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
