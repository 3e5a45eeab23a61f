// Package filestore implements artifact.Store on the local filesystem.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/phrazzld/cutout/internal/artifact"
)

// Store keeps artifacts as files below a root directory, at the path given
// by their locator.
type Store struct {
	root string
}

var _ artifact.Store = (*Store)(nil)

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("artifact directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create artifact directory: %v", artifact.ErrStorage, err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) path(locator string) (string, error) {
	if err := artifact.ValidateLocator(locator); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(locator)), nil
}

// Put writes the artifact through a temporary file and rename, so readers
// never see a partial file.
func (s *Store) Put(ctx context.Context, taskID string, data []byte) (string, error) {
	locator := artifact.Locator(taskID)
	path, err := s.path(locator)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", artifact.ErrStorage, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", artifact.ErrStorage, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: write %s: %v", artifact.ErrStorage, locator, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %v", artifact.ErrStorage, locator, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("%w: rename %s: %v", artifact.ErrStorage, locator, err)
	}
	return locator, nil
}

// Get implements artifact.Store.
func (s *Store) Get(ctx context.Context, locator string) ([]byte, error) {
	path, err := s.path(locator)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, locator)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", artifact.ErrStorage, locator, err)
	}
	return data, nil
}

// Delete implements artifact.Store.
func (s *Store) Delete(ctx context.Context, locator string) error {
	path, err := s.path(locator)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", artifact.ErrNotFound, locator)
	}
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", artifact.ErrStorage, locator, err)
	}
	return nil
}
