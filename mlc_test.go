package veritas

import (
	"context"
	"testing"
)

func TestMLCThresholdDeltaUnseenPatternIsZero(t *testing.T) {
	m := NewMLC(nil)
	if d := m.ThresholdDelta("identity", "what is my name"); d != 0 {
		t.Errorf("ThresholdDelta for unseen pattern = %v, want 0", d)
	}
}

func TestMLCThresholdDeltaHighSuccessRatePenalizes(t *testing.T) {
	m := NewMLC(nil)
	ctx := context.Background()
	for i := 0; i < 9; i++ {
		m.Observe(ctx, PatternObservation{Domain: "identity", Patterns: []string{"what is my name"}, WasHelpful: true, Score: 1})
	}
	m.Observe(ctx, PatternObservation{Domain: "identity", Patterns: []string{"what is my name"}, WasHelpful: false, Score: 0})

	if d := m.ThresholdDelta("identity", "What is my name?"); d != -1.5 {
		t.Errorf("ThresholdDelta for 90%% success rate = %v, want -1.5", d)
	}
}

func TestMLCThresholdDeltaLowSuccessRateBoosts(t *testing.T) {
	m := NewMLC(nil)
	ctx := context.Background()
	m.Observe(ctx, PatternObservation{Domain: "family", Patterns: []string{"who is my sibling"}, WasHelpful: true, Score: 1})
	for i := 0; i < 9; i++ {
		m.Observe(ctx, PatternObservation{Domain: "family", Patterns: []string{"who is my sibling"}, WasHelpful: false, Score: 0})
	}

	if d := m.ThresholdDelta("family", "who is my sibling"); d != 1.0 {
		t.Errorf("ThresholdDelta for 10%% success rate = %v, want 1.0", d)
	}
}

// §4.6 / §8: a pattern becomes universal once it has positive observations
// in at least crossDomainThreshold (default 3) distinct domains.
func TestMLCCrossDomainPatternBecomesUniversalAtThreshold(t *testing.T) {
	m := NewMLC(nil)
	ctx := context.Background()

	m.Observe(ctx, PatternObservation{Domain: "identity", Patterns: []string{"what is my name"}, WasHelpful: true, Score: 1})
	if bonus := m.ActivationBonus("what is my name"); bonus != 0 {
		t.Fatalf("premature universal bonus = %v, want 0 after only 1 domain", bonus)
	}

	m.Observe(ctx, PatternObservation{Domain: "family", Patterns: []string{"what is my name"}, WasHelpful: true, Score: 1})
	m.Observe(ctx, PatternObservation{Domain: "professional", Patterns: []string{"what is my name"}, WasHelpful: true, Score: 1})

	if bonus := m.ActivationBonus("what is my name"); bonus != 0.15 {
		t.Errorf("ActivationBonus after 3 domains = %v, want 0.15", bonus)
	}
}

func TestMLCActivationBonusNoUniversalPatternIsZero(t *testing.T) {
	m := NewMLC(nil)
	if bonus := m.ActivationBonus("some random question"); bonus != 0 {
		t.Errorf("ActivationBonus = %v, want 0 with no universal patterns", bonus)
	}
}

// Observe already stores patterns under their normalized form, so duplicate
// surface variants only arise from raw, unnormalized map state (e.g. data
// loaded from a store written before a normalization change). Collapse must
// still fold such variants into one entry.
func TestMLCCollapseMergesDuplicateSurfaceVariants(t *testing.T) {
	m := NewMLC(nil)
	m.byDomain["identity"] = map[string]*domainStats{
		"what is my name?": {successes: 2, total: 2, scoreSum: 2},
		"what is my name":  {successes: 1, total: 1, scoreSum: 1},
	}

	collapsed := m.Collapse(context.Background())
	if collapsed != 1 {
		t.Errorf("Collapse merged count = %d, want 1 (both normalize identically)", collapsed)
	}

	merged, ok := m.byDomain["identity"]["what is my name"]
	if !ok {
		t.Fatal("expected merged entry under the canonical key")
	}
	if merged.total != 3 || merged.successes != 3 {
		t.Errorf("merged stats = %+v, want total=3 successes=3", merged)
	}
}

func TestNormalizePatternStripsPunctuationAndCase(t *testing.T) {
	if got := normalizePattern("What is my Name?"); got != "what is my name" {
		t.Errorf("normalizePattern = %q, want %q", got, "what is my name")
	}
}

func TestMLCObserveWiresGraphConceptOnUniversalPattern(t *testing.T) {
	graph := NewInMemoryGraphStore()
	gmm := NewGMM(graph)
	m := NewMLC(nil, WithMLCGraph(gmm))
	ctx := context.Background()

	for _, domain := range []string{"identity", "family", "professional"} {
		m.Observe(ctx, PatternObservation{Domain: domain, Patterns: []string{"what is my name"}, WasHelpful: true, Score: 1})
	}

	related, err := gmm.FindRelated(ctx, "pattern:what is my name", 1)
	if err != nil {
		t.Fatalf("FindRelated failed: %v", err)
	}
	if len(related) != 3 {
		t.Errorf("expected the universal pattern concept linked to all 3 domains, got %d", len(related))
	}
}
