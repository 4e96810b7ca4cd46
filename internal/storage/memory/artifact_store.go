package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/intel-archiver/internal/crawler"
)

// ArtifactStore is an in-memory crawler.ArtifactStore with the same
// uniqueness contract as the relational store.
type ArtifactStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]crawler.Artifact
	byURL map[string]uuid.UUID
}

// NewArtifactStore constructs an ArtifactStore.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		byID:  make(map[uuid.UUID]crawler.Artifact),
		byURL: make(map[string]uuid.UUID),
	}
}

// InsertArtifact stores the artifact unless its source URL is already present.
func (s *ArtifactStore) InsertArtifact(_ context.Context, artifact crawler.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byURL[artifact.SourceURL]; exists {
		return crawler.ErrDuplicateArtifact
	}
	s.byID[artifact.ID] = artifact
	s.byURL[artifact.SourceURL] = artifact.ID
	return nil
}

// ArtifactExists reports whether sourceURL has been archived.
func (s *ArtifactStore) ArtifactExists(_ context.Context, sourceURL string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byURL[sourceURL]
	return ok, nil
}

// GetArtifact returns the artifact by id.
func (s *ArtifactStore) GetArtifact(_ context.Context, id uuid.UUID) (crawler.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return crawler.Artifact{}, crawler.ErrArtifactNotFound
	}
	return a, nil
}

// FindArtifact returns the artifact archived for sourceURL.
func (s *ArtifactStore) FindArtifact(_ context.Context, sourceURL string) (crawler.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[sourceURL]
	if !ok {
		return crawler.Artifact{}, crawler.ErrArtifactNotFound
	}
	return s.byID[id], nil
}

// DeleteArtifact removes the artifact.
func (s *ArtifactStore) DeleteArtifact(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return crawler.ErrArtifactNotFound
	}
	delete(s.byID, id)
	delete(s.byURL, a.SourceURL)
	return nil
}

// List returns all artifacts ordered by source URL.
func (s *ArtifactStore) List() []crawler.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Artifact, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceURL < out[j].SourceURL })
	return out
}
