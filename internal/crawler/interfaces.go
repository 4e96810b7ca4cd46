package crawler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LinkSource returns the outbound hrefs of a rendered page. Implementations
// apply their own retry policy and return an empty slice when navigation
// ultimately fails.
type LinkSource interface {
	Links(ctx context.Context, pageURL string) ([]string, error)
}

// SourceStore lists the configured seed sources.
type SourceStore interface {
	ListSources(ctx context.Context) ([]Source, error)
}

// CategoryStore lists the relevance categories used for one run.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]CategoryConfig, error)
}

// ArtifactStore persists archived artifacts. InsertArtifact returns
// ErrDuplicateArtifact when the source URL already exists.
type ArtifactStore interface {
	InsertArtifact(ctx context.Context, artifact Artifact) error
	ArtifactExists(ctx context.Context, sourceURL string) (bool, error)
	GetArtifact(ctx context.Context, id uuid.UUID) (Artifact, error)
	FindArtifact(ctx context.Context, sourceURL string) (Artifact, error)
	DeleteArtifact(ctx context.Context, id uuid.UUID) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers and artifact ids.
type IDGenerator interface {
	NewID() (string, error)
	NewUUID() (uuid.UUID, error)
}
