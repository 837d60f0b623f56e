package store

import (
	"context"
	"testing"

	"github.com/hazyhaar/a11yfix/dbopen"
)

func TestEnabledDefaultsTrue(t *testing.T) {
	s := New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
	on, err := s.Enabled(context.Background())
	if err != nil {
		t.Fatalf("Enabled: %v", err)
	}
	if !on {
		t.Fatal("Enabled: got false, want true on empty store")
	}
}

func TestToggle(t *testing.T) {
	ctx := context.Background()
	s := New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))

	on, err := s.Toggle(ctx)
	if err != nil || on {
		t.Fatalf("first Toggle: got %v, %v; want false", on, err)
	}
	if got, _ := s.Enabled(ctx); got {
		t.Fatal("Enabled after toggle: got true")
	}
	on, err = s.Toggle(ctx)
	if err != nil || !on {
		t.Fatalf("second Toggle: got %v, %v; want true", on, err)
	}
}
