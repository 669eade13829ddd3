package index

import (
	"context"
	"testing"
)

func TestVectorID(t *testing.T) {
	if got := VectorID(1); got != "application_1" {
		t.Fatalf("unexpected vector id %q", got)
	}
}

func TestMemoryQueryOrdersAndLimits(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()

	vectors := map[string][]float32{
		"application_1": {1, 0, 0},
		"application_2": {0.8, 0.6, 0},
		"application_3": {0, 1, 0},
		"application_4": {0, 0, 1},
	}
	for id, v := range vectors {
		if err := idx.Upsert(ctx, "alice", id, v, Metadata{Type: TypeApplication}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}

	got, err := idx.Query(ctx, "alice", []float32{1, 0, 0}, Filter{Type: TypeApplication}, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	if got[0].ID != "application_1" || got[1].ID != "application_2" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].Score < got[1].Score || got[1].Score < got[2].Score {
		t.Fatalf("scores not descending: %+v", got)
	}
}

func TestMemoryNamespacesAndFilter(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()

	_ = idx.Upsert(ctx, "alice", "application_1", []float32{1, 0}, Metadata{Type: TypeApplication, CompanyName: "Acme"})
	_ = idx.Upsert(ctx, "alice", "note_1", []float32{1, 0}, Metadata{Type: "note"})
	_ = idx.Upsert(ctx, "bob", "application_2", []float32{1, 0}, Metadata{Type: TypeApplication})

	got, err := idx.Query(ctx, "alice", []float32{1, 0}, Filter{Type: TypeApplication}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].Metadata.CompanyName != "Acme" {
		t.Fatalf("expected only alice's application, got %+v", got)
	}

	none, err := idx.Query(ctx, "carol", []float32{1, 0}, Filter{}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty namespace, got %+v", none)
	}
}

func TestMemoryUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()

	_ = idx.Upsert(ctx, "alice", "application_1", []float32{1, 0}, Metadata{Type: TypeApplication, Role: "Engineer"})
	_ = idx.Upsert(ctx, "alice", "application_1", []float32{0, 1}, Metadata{Type: TypeApplication, Role: "Senior Engineer"})

	got, _ := idx.Query(ctx, "alice", []float32{0, 1}, Filter{}, 5)
	if len(got) != 1 || got[0].Metadata.Role != "Senior Engineer" {
		t.Fatalf("expected overwritten entry, got %+v", got)
	}

	if err := idx.Upsert(ctx, "alice", "application_1", []float32{1, 0, 0}, Metadata{}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestMemoryUpsertCopiesVector(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()

	v := []float32{1, 0}
	_ = idx.Upsert(ctx, "alice", "application_1", v, Metadata{})
	v[0], v[1] = 0, 1

	got, _ := idx.Query(ctx, "alice", []float32{1, 0}, Filter{}, 1)
	if len(got) != 1 || got[0].Score < 0.99 {
		t.Fatalf("stored vector changed with caller slice: %+v", got)
	}
}

func TestPGVectorLiteral(t *testing.T) {
	if got := pgVector([]float32{0.5, -1, 0}); got != "[0.5,-1,0]" {
		t.Fatalf("unexpected literal %q", got)
	}
	if got := pgVector([]float32{1e-7, 0.1234567}); got != "[1e-07,0.1234567]" {
		t.Fatalf("small components must survive, got %q", got)
	}
	if got := pgVector(nil); got != "[0]" {
		t.Fatalf("unexpected empty literal %q", got)
	}
}
