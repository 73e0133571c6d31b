package veritas

import (
	"context"
	"errors"
	"testing"

	"github.com/nevindra/veritas/config"
)

func TestCMCValidateKeyForbiddenPatternAlwaysRejected(t *testing.T) {
	cmc := NewCMC(newMemFactStore(), nil)
	_, _, err := cmc.ValidateKey(context.Background(), "identity", "password")

	var schemaErr *SchemaViolationError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaViolationError, got %v", err)
	}
}

func TestCMCValidateKeyCoreDomainKnownKeyAccepted(t *testing.T) {
	store := newMemFactStore()
	store.LearnKey(context.Background(), "identity", "name")
	cmc := NewCMC(store, nil)

	domain, key, err := cmc.ValidateKey(context.Background(), "identity", "name")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if domain != "identity" || key != "name" {
		t.Errorf("got (%q,%q), want (identity,name)", domain, key)
	}
}

func TestCMCValidateKeyCoreDomainAcceptedEvenWithUnlearnedKey(t *testing.T) {
	cmc := NewCMC(newMemFactStore(), nil)
	_, _, err := cmc.ValidateKey(context.Background(), "identity", "name")

	// The domain itself ("identity") is a core domain and never rejected;
	// only the not-yet-learned key triggers the schema violation.
	var schemaErr *SchemaViolationError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaViolationError for the unlearned key, got %v", err)
	}
	if schemaErr.Domain != "" && schemaErr.Domain != "identity" {
		t.Errorf("Domain = %q, want empty or identity", schemaErr.Domain)
	}
}

func TestCMCValidateKeyUnknownDomainRejectedBelowThreshold(t *testing.T) {
	cmc := NewCMC(newMemFactStore(), nil)
	ctx := context.Background()

	_, _, err := cmc.ValidateKey(ctx, "hobbies", "sport")
	var schemaErr *SchemaViolationError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("first use of an unknown domain should be rejected, got %v", err)
	}
}

func TestCMCValidateKeyUnknownDomainAutoCreatedAtThreshold(t *testing.T) {
	cmc := NewCMC(newMemFactStore(), nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		cmc.ValidateKey(ctx, "hobbies", "sport")
	}

	domain, key, err := cmc.ValidateKey(ctx, "hobbies", "sport")
	if err != nil {
		t.Fatalf("domain and key should both be learned by now: %v", err)
	}
	if domain != "hobbies" {
		t.Errorf("domain = %q, want hobbies", domain)
	}
	if key != "sport" {
		t.Errorf("key = %q, want sport", key)
	}
}

// Testable scenario #6 (§8): repeatedly using a new key in a known domain
// eventually learns it, and later calls keep succeeding.
func TestCMCValidateKeyUnknownKeyLearnedAtThreshold(t *testing.T) {
	cmc := NewCMC(newMemFactStore(), nil)
	ctx := context.Background()

	_, _, err := cmc.ValidateKey(ctx, "identity", "research_area")
	var schemaErr *SchemaViolationError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("first use of an unknown key should be rejected, got %v", err)
	}

	for i := 0; i < 3; i++ {
		cmc.ValidateKey(ctx, "identity", "research_area")
	}

	_, key, err := cmc.ValidateKey(ctx, "identity", "research_area")
	if err != nil {
		t.Fatalf("after reaching the learning threshold the key should be accepted, got %v", err)
	}
	if key != "research_area" {
		t.Errorf("key = %q, want research_area", key)
	}
}

func TestCMCValidateKeyNumberedKeyRecognizedOnceSiblingKnown(t *testing.T) {
	store := newMemFactStore()
	store.LearnKey(context.Background(), "family", "child_1")
	cmc := NewCMC(store, nil)

	_, key, err := cmc.ValidateKey(context.Background(), "family", "child_2")
	if err != nil {
		t.Fatalf("numbered sibling of a known key should be accepted immediately, got %v", err)
	}
	if key != "child_2" {
		t.Errorf("key = %q, want child_2", key)
	}
}

func TestCMCValidateKeyFuzzyMatchAboveThreshold(t *testing.T) {
	store := newMemFactStore()
	store.LearnKey(context.Background(), "identity", "telephone")
	cmc := NewCMC(store, nil)

	// "telephon" is one character away from "telephone": similarity
	// 1 - 1/9 ≈ 0.89, above the default 0.85 threshold.
	_, key, err := cmc.ValidateKey(context.Background(), "identity", "telephon")
	if err != nil {
		t.Fatalf("expected fuzzy match to accept a near-typo key, got %v", err)
	}
	if key != "telephone" {
		t.Errorf("key = %q, want telephone (fuzzy-matched)", key)
	}
}

func TestCMCValidateKeyFuzzyMatchBelowThresholdRejected(t *testing.T) {
	store := newMemFactStore()
	store.LearnKey(context.Background(), "identity", "email")
	cmc := NewCMC(store, nil)

	_, _, err := cmc.ValidateKey(context.Background(), "identity", "phonenumber")
	var schemaErr *SchemaViolationError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("dissimilar unknown key should be rejected, got %v", err)
	}
}

func TestCMCStoreFactRejectsOverLengthValue(t *testing.T) {
	cmc := NewCMC(newMemFactStore(), nil)
	long := make([]byte, 501)
	for i := range long {
		long[i] = 'a'
	}
	_, err := cmc.StoreFact(context.Background(), "identity", "bio", string(long), "identity", AuthorityLongTerm, SourceChatUser, "")

	var schemaErr *SchemaViolationError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaViolationError for over-length value, got %v", err)
	}
}

func TestCMCStoreFactHardCapTotalFacts(t *testing.T) {
	store := newMemFactStore()
	store.LearnKey(context.Background(), "identity", "name")
	store.LearnKey(context.Background(), "identity", "location")
	cfg := config.Default().CMC
	cfg.MaxTotalFacts = 1
	cmc := NewCMC(store, nil, WithCMCConfig(cfg))
	ctx := context.Background()

	_, err := cmc.StoreFact(ctx, "identity", "name", "Alex", "identity", AuthorityLongTerm, SourceChatUser, "")
	if err != nil {
		t.Fatalf("first fact should succeed: %v", err)
	}

	_, err = cmc.StoreFact(ctx, "identity", "location", "Oslo", "identity", AuthorityLongTerm, SourceChatUser, "")
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitExceededError once maxTotalFacts is reached, got %v", err)
	}
}

func TestCMCGetFactRoundTrip(t *testing.T) {
	store := newMemFactStore()
	store.LearnKey(context.Background(), "identity", "name")
	cmc := NewCMC(store, nil)
	ctx := context.Background()

	stored, err := cmc.StoreFact(ctx, "identity", "name", "Morten", "identity", AuthorityLongTerm, SourceChatUser, "")
	if err != nil {
		t.Fatalf("StoreFact failed: %v", err)
	}

	got, ok, err := cmc.GetFact(ctx, "identity", "name")
	if err != nil || !ok {
		t.Fatalf("GetFact failed: ok=%v err=%v", ok, err)
	}
	if got.Value != "Morten" {
		t.Errorf("Value = %q, want Morten", got.Value)
	}
	if got.ID != stored.ID {
		t.Errorf("ID = %q, want %q", got.ID, stored.ID)
	}
}

func TestCMCQueryRelatedFactsWithoutEmbedderReturnsEmpty(t *testing.T) {
	cmc := NewCMC(newMemFactStore(), nil)
	facts, err := cmc.QueryRelatedFacts(context.Background(), "hello", nil, 5)
	if err != nil {
		t.Fatalf("expected no error with nil embedder, got %v", err)
	}
	if facts != nil {
		t.Errorf("expected nil/empty result, got %v", facts)
	}
}

func TestStringSimilarityIdentical(t *testing.T) {
	if s := stringSimilarity("email", "email"); s != 1 {
		t.Errorf("identical strings should score 1, got %v", s)
	}
}
