// Package gcs provides an ObjectStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	archivestorage "github.com/JakeFAU/intel-archiver/internal/storage"
)

const (
	folderMarker = ".folder"
	trashedKey   = "trashed"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket     string
	RootFolder string
}

// BlobStore archives documents under RootFolder in a GCS bucket. Folders are
// materialized with a placeholder object; soft deletion marks objects with a
// trashed metadata flag so lifecycle rules can purge them.
type BlobStore struct {
	client *storage.Client
	bucket string
	root   string
	logger *zap.Logger
}

// New creates a GCS-backed object store.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		root:   strings.Trim(cfg.RootFolder, "/"),
		logger: logger,
	}, nil
}

// EnsureFolder writes the folder placeholder if it does not exist yet.
func (s *BlobStore) EnsureFolder(ctx context.Context, name string) (string, error) {
	if err := archivestorage.ValidateSegment(name); err != nil {
		return "", fmt.Errorf("folder %q: %w", name, err)
	}
	prefix := path.Join(s.root, name)
	marker := s.client.Bucket(s.bucket).Object(path.Join(prefix, folderMarker))
	_, err := marker.Attrs(ctx)
	switch {
	case err == nil:
		return prefix, nil
	case !errors.Is(err, storage.ErrObjectNotExist):
		return "", fmt.Errorf("stat folder %s: %w", prefix, err)
	}
	writer := marker.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/x-directory"
	if err := writer.Close(); err != nil {
		// A concurrent branch may have created it first.
		if _, statErr := marker.Attrs(ctx); statErr == nil {
			return prefix, nil
		}
		return "", fmt.Errorf("create folder %s: %w", prefix, err)
	}
	return prefix, nil
}

// Upload streams r into folderRef/name and returns a gs:// URI.
func (s *BlobStore) Upload(ctx context.Context, folderRef, name, contentType string, r io.Reader) (string, error) {
	if err := archivestorage.ValidateSegment(name); err != nil {
		return "", fmt.Errorf("object %q: %w", name, err)
	}
	objectPath := path.Join(folderRef, name)
	// Cancelling the writer's context aborts the upload; Close alone would
	// commit whatever was copied.
	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	writer := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(uploadCtx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		cancel()
		_ = writer.Close()
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectPath), nil
}

// SoftDelete flags the object as trashed. Missing objects are not an error.
func (s *BlobStore) SoftDelete(ctx context.Context, id string) (bool, error) {
	objectPath := strings.TrimPrefix(id, "gs://"+s.bucket+"/")
	if objectPath == "" {
		return false, fmt.Errorf("object id is required")
	}
	_, err := s.client.Bucket(s.bucket).Object(objectPath).Update(ctx, storage.ObjectAttrsToUpdate{
		Metadata: map[string]string{trashedKey: "true"},
	})
	if errors.Is(err, storage.ErrObjectNotExist) {
		s.logger.Warn("object already deleted", zap.String("object", objectPath))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("trash object %s: %w", objectPath, err)
	}
	return true, nil
}
