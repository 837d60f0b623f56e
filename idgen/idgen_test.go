package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNanoID(t *testing.T) {
	gen := NanoID(8)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := gen()
		if len(id) != 8 {
			t.Fatalf("len: got %d, want 8", len(id))
		}
		if strings.Trim(id, "0123456789abcdefghijklmnopqrstuvwxyz") != "" {
			t.Fatalf("alphabet: got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestElementID(t *testing.T) {
	id := ElementID()
	if !strings.HasPrefix(id, "a11y-") || len(id) != len("a11y-")+8 {
		t.Fatalf("ElementID: got %q", id)
	}
}

func TestNewIsUUIDv7(t *testing.T) {
	u, err := uuid.Parse(New())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Version() != 7 {
		t.Fatalf("version: got %d, want 7", u.Version())
	}
}
