// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique, valid, time-ordered UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewGenerator()
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
	for _, id := range []string{id1, id2} {
		parsed, err := goUUID.Parse(id)
		if err != nil {
			t.Fatalf("id %q not a valid UUID: %v", id, err)
		}
		if parsed.Version() != 7 {
			t.Fatalf("id %q is UUID version %d; want 7", id, parsed.Version())
		}
	}
}
