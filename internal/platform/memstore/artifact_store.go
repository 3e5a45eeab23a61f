package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/phrazzld/cutout/internal/artifact"
)

// ArtifactStore keeps artifacts in a map. It implements artifact.Store.
type ArtifactStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

var _ artifact.Store = (*ArtifactStore)(nil)

// NewArtifactStore creates an empty artifact store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{objects: make(map[string][]byte)}
}

// Put implements artifact.Store.
func (s *ArtifactStore) Put(ctx context.Context, taskID string, data []byte) (string, error) {
	locator := artifact.Locator(taskID)
	if err := artifact.ValidateLocator(locator); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[locator] = append([]byte(nil), data...)
	return locator, nil
}

// Get implements artifact.Store.
func (s *ArtifactStore) Get(ctx context.Context, locator string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[locator]
	if !ok {
		return nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, locator)
	}
	return append([]byte(nil), data...), nil
}

// Delete implements artifact.Store.
func (s *ArtifactStore) Delete(ctx context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[locator]; !ok {
		return fmt.Errorf("%w: %s", artifact.ErrNotFound, locator)
	}
	delete(s.objects, locator)
	return nil
}

// Len returns the number of stored artifacts.
func (s *ArtifactStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
