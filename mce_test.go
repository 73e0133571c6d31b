package veritas

import (
	"context"
	"testing"
)

// §4.9: when a fact a dependent relies on is invalidated, the dependent is
// marked SUSPECT (not DEPRECATED) since it may still be independently
// reinforced.
func TestMCEPropagateInvalidationMarksDependentsSuspect(t *testing.T) {
	store := newMemFactStore()
	ctx := context.Background()

	store.UpsertFact(ctx, Fact{ID: "parent", Domain: "identity", Key: "employer", Value: "Acme", Status: FactStatusActive})
	store.UpsertFact(ctx, Fact{ID: "child", Domain: "professional", Key: "role", Value: "Engineer at Acme", Status: FactStatusActive})

	mce := NewMCE(store)
	if err := mce.AddDependency(ctx, "child", "parent"); err != nil {
		t.Fatalf("AddDependency failed: %v", err)
	}

	if err := mce.PropagateInvalidation(ctx, "parent"); err != nil {
		t.Fatalf("PropagateInvalidation failed: %v", err)
	}

	got := store.facts["child"]
	if got.Status != FactStatusSuspect {
		t.Errorf("dependent status = %q, want SUSPECT", got.Status)
	}
}

func TestMCEPropagateInvalidationNoDependentsIsNoOp(t *testing.T) {
	store := newMemFactStore()
	ctx := context.Background()
	store.UpsertFact(ctx, Fact{ID: "lonely", Domain: "identity", Key: "name", Value: "Morten", Status: FactStatusActive})

	mce := NewMCE(store)
	if err := mce.PropagateInvalidation(ctx, "lonely"); err != nil {
		t.Fatalf("PropagateInvalidation failed: %v", err)
	}

	if got := store.facts["lonely"].Status; got != FactStatusActive {
		t.Errorf("unrelated fact status = %q, want unchanged ACTIVE", got)
	}
}

func TestMCEPropagateInvalidationCascadesMultipleDependents(t *testing.T) {
	store := newMemFactStore()
	ctx := context.Background()
	store.UpsertFact(ctx, Fact{ID: "parent", Domain: "identity", Key: "employer", Value: "Acme", Status: FactStatusActive})
	store.UpsertFact(ctx, Fact{ID: "c1", Domain: "professional", Key: "role", Value: "Engineer", Status: FactStatusActive})
	store.UpsertFact(ctx, Fact{ID: "c2", Domain: "professional", Key: "office", Value: "Oslo HQ", Status: FactStatusActive})

	mce := NewMCE(store)
	mce.AddDependency(ctx, "c1", "parent")
	mce.AddDependency(ctx, "c2", "parent")

	if err := mce.PropagateInvalidation(ctx, "parent"); err != nil {
		t.Fatalf("PropagateInvalidation failed: %v", err)
	}

	if store.facts["c1"].Status != FactStatusSuspect || store.facts["c2"].Status != FactStatusSuspect {
		t.Errorf("expected both dependents SUSPECT, got c1=%q c2=%q", store.facts["c1"].Status, store.facts["c2"].Status)
	}
}
