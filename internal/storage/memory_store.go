package storage

import (
	"context"
	"fmt"
	"sync"
)

// memoryStore is an in-memory ObjectStore used by tests and single-process
// deployments that do not need durable file storage.
type memoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty in-memory object store.
func NewMemoryStore() ObjectStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (s *memoryStore) Upload(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = buf
	return nil
}

func (s *memoryStore) Download(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}
