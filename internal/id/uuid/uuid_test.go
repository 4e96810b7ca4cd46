// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	if _, err := goUUID.Parse(id1); err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
}

// TestGeneratorNewUUIDVersion ensures artifact ids are version 7 and ordered.
func TestGeneratorNewUUIDVersion(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewUUID()
	if err != nil {
		t.Fatalf("NewUUID() error = %v", err)
	}
	second, err := gen.NewUUID()
	if err != nil {
		t.Fatalf("NewUUID() error = %v", err)
	}
	if first.Version() != 7 {
		t.Fatalf("expected version 7, got %d", first.Version())
	}
	if first.String() >= second.String() {
		t.Fatalf("expected %s to sort before %s", first, second)
	}
}
