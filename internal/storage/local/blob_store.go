// Package local implements a filesystem object store and the scratch area
// used to stage rendered documents before upload.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	archivestorage "github.com/JakeFAU/intel-archiver/internal/storage"
)

const trashDir = ".trash"

// Config captures the parameters for the local filesystem object store.
type Config struct {
	// BaseDir is the root directory where archived documents are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes archived documents to the local filesystem. Soft deleted
// files are moved under BaseDir/.trash.
type BlobStore struct {
	baseDir string
	logger  *zap.Logger
}

// New creates a new local filesystem-backed object store.
func New(cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if err := ensureWritableDir(cfg.BaseDir); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir), logger: logger}, nil
}

func ensureWritableDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(dir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("failed to clean up test file: %w", err)
	}
	return nil
}

// within resolves rel under base and rejects traversal outside it.
func within(base, rel string) (string, error) {
	full := filepath.Clean(filepath.Join(base, rel))
	if !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

// EnsureFolder creates BaseDir/name and returns name as the folder reference.
func (s *BlobStore) EnsureFolder(_ context.Context, name string) (string, error) {
	if err := archivestorage.ValidateSegment(name); err != nil {
		return "", fmt.Errorf("folder %q: %w", name, err)
	}
	dir, err := within(s.baseDir, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}
	return name, nil
}

// Upload writes r to BaseDir/folderRef/name and returns a file:// URI.
func (s *BlobStore) Upload(_ context.Context, folderRef, name, _ string, r io.Reader) (string, error) {
	if err := archivestorage.ValidateSegment(name); err != nil {
		return "", fmt.Errorf("object %q: %w", name, err)
	}
	fullPath, err := within(s.baseDir, filepath.Join(folderRef, name))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	// #nosec G304 -- fullPath is confined to baseDir above.
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return "file://" + fullPath, nil
}

// SoftDelete moves the file into the trash directory.
func (s *BlobStore) SoftDelete(_ context.Context, id string) (bool, error) {
	fullPath := filepath.Clean(strings.TrimPrefix(id, "file://"))
	rel, err := filepath.Rel(s.baseDir, fullPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false, fmt.Errorf("object %s is outside the store", id)
	}
	dest := filepath.Join(s.baseDir, trashDir, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return false, fmt.Errorf("create trash: %w", err)
	}
	if err := os.Rename(fullPath, dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("object already deleted", zap.String("object", id))
			return false, nil
		}
		return false, fmt.Errorf("trash object: %w", err)
	}
	return true, nil
}
