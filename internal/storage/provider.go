// Package storage defines the object storage abstraction used to archive
// rendered documents. Backends live in subpackages (gcs, local, memory).
package storage

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
)

// ErrInvalidName is returned for empty or unsafe folder and object names.
var ErrInvalidName = errors.New("invalid object name")

// ObjectStore stores archived documents grouped in folders.
type ObjectStore interface {
	// EnsureFolder creates the folder if needed and returns its reference.
	EnsureFolder(ctx context.Context, name string) (string, error)
	// Upload stores r under folderRef and returns the object id.
	Upload(ctx context.Context, folderRef, name, contentType string, r io.Reader) (string, error)
	// SoftDelete trashes the object. It reports false, without error, when the
	// object does not exist.
	SoftDelete(ctx context.Context, id string) (bool, error)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeName turns an arbitrary string (usually a URL) into a single safe
// path segment no longer than maxLen.
func SanitizeName(raw string, maxLen int) string {
	s := strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._-")
	if maxLen > 0 && len(s) > maxLen {
		s = strings.TrimRight(s[:maxLen], "._-")
	}
	if s == "" {
		return "document"
	}
	return s
}

// ValidateSegment rejects names that are empty or could escape a folder.
func ValidateSegment(name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) {
		return ErrInvalidName
	}
	return nil
}
