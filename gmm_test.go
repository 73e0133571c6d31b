package veritas

import (
	"context"
	"errors"
	"testing"
)

func TestGMMNilStoreReturnsBackendUnavailable(t *testing.T) {
	g := NewGMM(nil)
	ctx := context.Background()

	var unavailable *BackendUnavailableError

	if err := g.StoreConcept(ctx, Concept{Name: "x"}); !errors.As(err, &unavailable) {
		t.Errorf("StoreConcept: expected BackendUnavailableError, got %v", err)
	}
	if err := g.LinkConcepts(ctx, "a", "b", RelationSupports, 1); !errors.As(err, &unavailable) {
		t.Errorf("LinkConcepts: expected BackendUnavailableError, got %v", err)
	}
	if _, err := g.FindRelated(ctx, "a", 2); !errors.As(err, &unavailable) {
		t.Errorf("FindRelated: expected BackendUnavailableError, got %v", err)
	}
	if _, err := g.RunQuery(ctx, "MATCH x"); !errors.As(err, &unavailable) {
		t.Errorf("RunQuery: expected BackendUnavailableError, got %v", err)
	}
}

func TestInMemoryGraphStoreFindRelatedOneHop(t *testing.T) {
	store := NewInMemoryGraphStore()
	gmm := NewGMM(store)
	ctx := context.Background()

	if err := gmm.StoreConcept(ctx, Concept{Name: "family"}); err != nil {
		t.Fatalf("StoreConcept failed: %v", err)
	}
	if err := gmm.StoreConcept(ctx, Concept{Name: "identity"}); err != nil {
		t.Fatalf("StoreConcept failed: %v", err)
	}
	if err := gmm.LinkConcepts(ctx, "family", "identity", RelationSupports, 0.9); err != nil {
		t.Fatalf("LinkConcepts failed: %v", err)
	}

	related, err := gmm.FindRelated(ctx, "family", 1)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if len(related) != 1 || related[0].Name != "identity" {
		t.Errorf("related = %+v, want [{identity ...}]", related)
	}
}

func TestInMemoryGraphStoreFindRelatedRespectsMaxDepth(t *testing.T) {
	store := NewInMemoryGraphStore()
	gmm := NewGMM(store)
	ctx := context.Background()

	gmm.LinkConcepts(ctx, "a", "b", RelationSupports, 1)
	gmm.LinkConcepts(ctx, "b", "c", RelationSupports, 1)

	oneHop, err := gmm.FindRelated(ctx, "a", 1)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if len(oneHop) != 1 || oneHop[0].Name != "b" {
		t.Errorf("depth 1: related = %+v, want only b", oneHop)
	}

	twoHop, err := gmm.FindRelated(ctx, "a", 2)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if len(twoHop) != 2 {
		t.Errorf("depth 2: expected 2 related concepts, got %d (%+v)", len(twoHop), twoHop)
	}
}

func TestInMemoryGraphStoreRunQueryUnsupported(t *testing.T) {
	store := NewInMemoryGraphStore()
	if _, err := store.RunQuery(context.Background(), "anything"); err == nil {
		t.Error("expected an error from the in-memory store's unsupported RunQuery")
	}
}
