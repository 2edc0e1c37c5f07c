// Package blob implements domain.BlobStore backends: local files, Amazon S3
// and an in-memory store used by tests and the "memory" backend.
package blob

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"agent-market/internal/domain"
)

// Compile-time interface checks.
var (
	_ domain.BlobStore = (*MemoryStore)(nil)
	_ domain.BlobStore = (*FileStore)(nil)
	_ domain.BlobStore = (*S3Store)(nil)
)

type memItem struct {
	data    []byte
	version string
}

// MemoryStore keeps blobs in a map. Versions are a per-store write counter.
type MemoryStore struct {
	mu      sync.Mutex
	items   map[string]memItem
	writes  int
	putHook func(key string) error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memItem)}
}

// OnPut installs a hook run before every Put. A non-nil error from the hook
// fails the Put without writing.
func (s *MemoryStore) OnPut(hook func(key string) error) {
	s.mu.Lock()
	s.putHook = hook
	s.mu.Unlock()
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
	}
	return append([]byte(nil), it.data...), it.version, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte, ifVersion string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putHook != nil {
		if err := s.putHook(key); err != nil {
			return "", err
		}
	}
	if cur := s.items[key].version; cur != ifVersion {
		return "", fmt.Errorf("%w: %s at %q, expected %q", domain.ErrVersionConflict, key, cur, ifVersion)
	}
	s.writes++
	version := strconv.Itoa(s.writes)
	s.items[key] = memItem{data: append([]byte(nil), data...), version: version}
	return version, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}
