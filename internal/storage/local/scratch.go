package local

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Scratch is the per-process staging directory for rendered documents.
type Scratch struct {
	dir string
}

// NewScratch creates the directory if needed.
func NewScratch(dir string) (*Scratch, error) {
	if err := ensureWritableDir(dir); err != nil {
		return nil, fmt.Errorf("scratch: %w", err)
	}
	return &Scratch{dir: filepath.Clean(dir)}, nil
}

// Dir returns the scratch root.
func (s *Scratch) Dir() string {
	return s.dir
}

// Wipe removes every entry in the scratch directory, keeping the directory.
func (s *Scratch) Wipe() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read scratch: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("wipe scratch: %w", err)
		}
	}
	return nil
}

// Stage writes data to a new file named after name and returns its path.
// The caller removes the file when done.
func (s *Scratch) Stage(name string, data []byte) (string, error) {
	pattern := strings.ReplaceAll(filepath.Base(name), "*", "_") + "-*"
	f, err := os.CreateTemp(s.dir, pattern)
	if err != nil {
		return "", fmt.Errorf("stage %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("stage %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("stage %s: %w", name, err)
	}
	return f.Name(), nil
}
