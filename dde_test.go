package veritas

import (
	"context"
	"strings"
	"testing"

	"github.com/nevindra/veritas/config"
)

func keywordOnlyConfig(threshold, keywordWeight float64) config.DDEConfig {
	return config.DDEConfig{
		ConfidenceThreshold: threshold,
		ExemplarCacheSize:   20,
		KeywordWeight:       keywordWeight,
		MinTokensForEntropy: 9999,
	}
}

func TestDDEClassifyKeywordOnlyAboveThreshold(t *testing.T) {
	d := NewDDE(nil,
		WithDDEConfig(keywordOnlyConfig(0.5, 1.0)),
		WithDomainKeywords(DomainKeywords{"cooking": {"recipe", "cook"}}),
	)

	signal := d.Classify(context.Background(), "I love to cook pasta")
	if signal.Domain != "cooking" {
		t.Errorf("Domain = %q, want cooking (score 0.5 >= threshold 0.5)", signal.Domain)
	}
}

func TestDDEClassifyBelowThresholdReturnsUnknown(t *testing.T) {
	d := NewDDE(nil,
		WithDDEConfig(keywordOnlyConfig(0.5, 1.0)),
		WithDomainKeywords(DomainKeywords{"cooking": {"recipe", "cook"}}),
	)

	signal := d.Classify(context.Background(), "What time is it?")
	if signal.Domain != "unknown" {
		t.Errorf("Domain = %q, want unknown (no keyword hits)", signal.Domain)
	}
}

func TestDDEClassifyNoSignalsReturnsUnknown(t *testing.T) {
	d := NewDDE(nil)
	signal := d.Classify(context.Background(), "hello there")
	if signal.Domain != "unknown" {
		t.Errorf("Domain = %q, want unknown with no configured signals", signal.Domain)
	}
}

// §8: text shorter than 10 tokens contributes 0 from the entropy signal, so
// a borderline keyword score stays below threshold until the text is long
// enough for entropy to push it over.
func TestDDEClassifyShortTextSkipsEntropySignal(t *testing.T) {
	cfg := config.DDEConfig{
		ConfidenceThreshold: 0.6,
		ExemplarCacheSize:   20,
		KeywordWeight:       0.5,
		EntropyWeight:       0.5,
		MinTokensForEntropy: 10,
	}
	d := NewDDE(nil,
		WithDDEConfig(cfg),
		WithDomainKeywords(DomainKeywords{"sports": {"game"}}),
	)

	short := d.Classify(context.Background(), "I like game")
	if countTokens("I like game") >= 10 {
		t.Fatal("test setup error: expected short text under 10 tokens")
	}
	if short.Domain != "unknown" {
		t.Errorf("short text: Domain = %q, want unknown (entropy signal gated off)", short.Domain)
	}

	long := "I really like to play this fun exciting video game today"
	if countTokens(long) < 10 {
		t.Fatal("test setup error: expected long text at or above 10 tokens")
	}
	longSignal := d.Classify(context.Background(), long)
	if longSignal.Domain != "sports" {
		t.Errorf("long text: Domain = %q, want sports (entropy signal now contributes)", longSignal.Domain)
	}
}

func TestDDERecordTurnAffectsTransitionScores(t *testing.T) {
	cfg := config.DDEConfig{
		ConfidenceThreshold: 0.1,
		ExemplarCacheSize:   20,
		TransitionWeight:    1.0,
		MinTokensForEntropy: 9999,
	}
	d := NewDDE(nil, WithDDEConfig(cfg))

	d.RecordTurn("identity")
	d.RecordTurn("family")
	d.RecordTurn("identity")

	signal := d.Classify(context.Background(), "whatever text")
	if signal.Domain != "family" {
		t.Errorf("Domain = %q, want family (learned transition from identity)", signal.Domain)
	}
}

type fakeKeywordEmbedder struct {
	hot string
}

func (f fakeKeywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, txt := range texts {
		if strings.Contains(txt, f.hot) {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}
func (f fakeKeywordEmbedder) Dimensions() int { return 2 }
func (f fakeKeywordEmbedder) Name() string    { return "fake" }

func TestDDEClassifySemanticSignalAboveThreshold(t *testing.T) {
	cfg := config.DDEConfig{
		ConfidenceThreshold: 0.5,
		ExemplarCacheSize:   20,
		SemanticWeight:      1.0,
		MinTokensForEntropy: 9999,
	}
	d := NewDDE(fakeKeywordEmbedder{hot: "computer"},
		WithDDEConfig(cfg),
		WithDomainExemplars(DomainExemplars{"tech": {"computer internet software"}}),
	)

	signal := d.Classify(context.Background(), "I love my computer")
	if signal.Domain != "tech" {
		t.Errorf("Domain = %q, want tech (cosine similarity 1.0)", signal.Domain)
	}
}

func TestCountTokensWhitespaceAndPunctuation(t *testing.T) {
	if n := countTokens("Hello, world! How are you?"); n != 5 {
		t.Errorf("countTokens = %d, want 5", n)
	}
}

func TestTokenEntropyUniformDistributionIsMaximal(t *testing.T) {
	if e := tokenEntropy("a b c d"); e != 1 {
		t.Errorf("tokenEntropy for all-distinct tokens = %v, want 1", e)
	}
}

func TestTokenEntropyEmptyTextIsZero(t *testing.T) {
	if e := tokenEntropy(""); e != 0 {
		t.Errorf("tokenEntropy(\"\") = %v, want 0", e)
	}
}

func TestCosineSimilarityOrthogonalIsZero(t *testing.T) {
	if s := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); s != 0 {
		t.Errorf("cosineSimilarity = %v, want 0", s)
	}
}

func TestLRUCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", 1)
	c.put("b", 2)
	c.get("a") // touch a, making b the LRU entry
	c.put("c", 3)

	if _, ok := c.get("b"); ok {
		t.Error("expected b to be evicted as least recently used")
	}
	if _, ok := c.get("a"); !ok {
		t.Error("expected a to survive (recently touched)")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("expected c to survive (just inserted)")
	}
}
