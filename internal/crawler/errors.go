package crawler

import "errors"

var (
	// ErrDuplicateArtifact marks an insert rejected by the unique source URL.
	ErrDuplicateArtifact = errors.New("artifact already exists for source url")
	// ErrArtifactNotFound is returned when no artifact matches an id.
	ErrArtifactNotFound = errors.New("artifact not found")
)
