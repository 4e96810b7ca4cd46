// Package memory provides in-memory storage backends for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	archivestorage "github.com/JakeFAU/intel-archiver/internal/storage"
)

// BlobStore keeps archived documents in memory and returns memory:// ids.
type BlobStore struct {
	mu      sync.RWMutex
	folders map[string]struct{}
	data    map[string][]byte
	trashed map[string]bool
}

// NewBlobStore creates a new in-memory object store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		folders: make(map[string]struct{}),
		data:    make(map[string][]byte),
		trashed: make(map[string]bool),
	}
}

// EnsureFolder records the folder and returns its name.
func (s *BlobStore) EnsureFolder(_ context.Context, name string) (string, error) {
	if err := archivestorage.ValidateSegment(name); err != nil {
		return "", fmt.Errorf("folder %q: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[name] = struct{}{}
	return name, nil
}

// Upload copies the content and returns its id.
func (s *BlobStore) Upload(_ context.Context, folderRef, name, _ string, r io.Reader) (string, error) {
	if err := archivestorage.ValidateSegment(name); err != nil {
		return "", fmt.Errorf("object %q: %w", name, err)
	}
	byteData, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read data from reader: %w", err)
	}
	id := "memory://" + path.Join(folderRef, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = append([]byte(nil), byteData...)
	delete(s.trashed, id)
	return id, nil
}

// SoftDelete marks the object trashed.
func (s *BlobStore) SoftDelete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok || s.trashed[id] {
		return false, nil
	}
	s.trashed[id] = true
	return true, nil
}

// Object returns a stored object and whether it is live (present and not trashed).
func (s *BlobStore) Object(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[id]
	if !ok || s.trashed[id] {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Len returns the number of live objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for id := range s.data {
		if !s.trashed[id] {
			n++
		}
	}
	return n
}
