package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/intel-archiver/internal/crawler"
)

// InsertArtifact inserts the row unless source_url already exists, in which
// case crawler.ErrDuplicateArtifact is returned.
func (s *Store) InsertArtifact(ctx context.Context, a crawler.Artifact) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, source_url, storage_ref, category, created_at, approved)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_url) DO NOTHING`, s.tables.artifacts)
	tag, err := s.pool.Exec(ctx, query, a.ID, a.SourceURL, a.StorageRef, a.Category, a.CreatedAt, a.Approved)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrDuplicateArtifact
	}
	return nil
}

// ArtifactExists reports whether an artifact for sourceURL exists.
func (s *Store) ArtifactExists(ctx context.Context, sourceURL string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE source_url = $1)`, s.tables.artifacts)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, sourceURL).Scan(&exists); err != nil {
		return false, fmt.Errorf("check artifact: %w", err)
	}
	return exists, nil
}

// GetArtifact loads one artifact by id.
func (s *Store) GetArtifact(ctx context.Context, id uuid.UUID) (crawler.Artifact, error) {
	return s.scanArtifact(ctx, "id", id)
}

// FindArtifact loads the artifact archived for sourceURL.
func (s *Store) FindArtifact(ctx context.Context, sourceURL string) (crawler.Artifact, error) {
	return s.scanArtifact(ctx, "source_url", sourceURL)
}

func (s *Store) scanArtifact(ctx context.Context, column string, key any) (crawler.Artifact, error) {
	query := fmt.Sprintf(`
SELECT id, source_url, storage_ref, category, created_at, approved
FROM %s WHERE %s = $1`, s.tables.artifacts, column)
	var a crawler.Artifact
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&a.ID, &a.SourceURL, &a.StorageRef, &a.Category, &a.CreatedAt, &a.Approved,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Artifact{}, crawler.ErrArtifactNotFound
	}
	if err != nil {
		return crawler.Artifact{}, fmt.Errorf("get artifact: %w", err)
	}
	return a, nil
}

// DeleteArtifact removes the row.
func (s *Store) DeleteArtifact(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tables.artifacts)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrArtifactNotFound
	}
	return nil
}
