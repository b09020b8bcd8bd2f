// Package storage holds uploaded files between ingestion and promotion.
// Keys are opaque to callers; the default layout is <job id>/<file name>.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrObjectNotFound is returned when a stored object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore persists raw uploaded files and derived exports.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// diskStore implements ObjectStore on the local filesystem.
type diskStore struct {
	root string
}

// NewDiskStore creates an object store rooted at the given directory.
func NewDiskStore(root string) (ObjectStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &diskStore{root: root}, nil
}

func (s *diskStore) path(key string) (string, error) {
	cleaned := filepath.Clean(strings.TrimPrefix(key, "/"))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *diskStore) Upload(ctx context.Context, key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write object %s: %w", key, err)
	}
	return nil
}

func (s *diskStore) Download(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

func (s *diskStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}
