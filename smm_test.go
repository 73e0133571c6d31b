package veritas

import (
	"context"
	"testing"
)

func TestSMMStoreTurnSetsDefaults(t *testing.T) {
	store := newMemChunkStore()
	smm := NewSMM(store, constEmbedder{dims: 4})

	chunk, err := smm.StoreTurn(context.Background(), "s1", "user", "hello there")
	if err != nil {
		t.Fatalf("StoreTurn failed: %v", err)
	}
	if chunk.RelevanceDecay != 1.0 {
		t.Errorf("RelevanceDecay = %v, want 1.0", chunk.RelevanceDecay)
	}
	if chunk.UsageCount != 0 {
		t.Errorf("UsageCount = %v, want 0", chunk.UsageCount)
	}
	if len(chunk.Embedding) != 4 {
		t.Errorf("Embedding length = %d, want 4", len(chunk.Embedding))
	}
	if _, ok := store.byID[chunk.ID]; !ok {
		t.Error("expected the chunk to be persisted in the store")
	}
}

func TestSMMSearchContextNilEmbedderReturnsEmpty(t *testing.T) {
	store := newMemChunkStore()
	smm := NewSMM(store, nil)

	results, err := smm.SearchContext(context.Background(), "anything", 5, 0.1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results with a nil embedder, got %v", results)
	}
}

func TestSMMSearchContextFiltersBelowThreshold(t *testing.T) {
	store := newMemChunkStore()
	store.byID["low"] = Chunk{ID: "low", Text: "faint", RelevanceDecay: 0.05}
	store.byID["high"] = Chunk{ID: "high", Text: "strong", RelevanceDecay: 1.0}
	smm := NewSMM(store, constEmbedder{dims: 4})

	results, err := smm.SearchContext(context.Background(), "query", 10, 0.5)
	if err != nil {
		t.Fatalf("SearchContext failed: %v", err)
	}
	// memChunkStore's SearchChunks returns every chunk with a raw score of
	// 1.0; SMM multiplies that by RelevanceDecay, so "low" (0.05) falls
	// below the 0.5 threshold while "high" (1.0) passes.
	if len(results) != 1 || results[0].Chunk.ID != "high" {
		t.Errorf("results = %+v, want only the high-relevance chunk", results)
	}
}

func TestSMMSearchContextTouchesReturnedChunks(t *testing.T) {
	store := newMemChunkStore()
	store.byID["c1"] = Chunk{ID: "c1", Text: "hi", RelevanceDecay: 1.0, UsageCount: 0}
	smm := NewSMM(store, constEmbedder{dims: 4})

	if _, err := smm.SearchContext(context.Background(), "query", 5, 0.1); err != nil {
		t.Fatalf("SearchContext failed: %v", err)
	}
	if got := store.byID["c1"].UsageCount; got != 1 {
		t.Errorf("UsageCount after a hit = %d, want 1 (touched)", got)
	}
}

func TestSMMGetSessionHistoryFiltersBySession(t *testing.T) {
	store := newMemChunkStore()
	store.byID["a"] = Chunk{ID: "a", SessionID: "s1"}
	store.byID["b"] = Chunk{ID: "b", SessionID: "s2"}
	smm := NewSMM(store, nil)

	history, err := smm.GetSessionHistory(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("GetSessionHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].ID != "a" {
		t.Errorf("history = %+v, want only chunk a", history)
	}
}

func TestSMMPruneOldConversationsRemovesStaleChunks(t *testing.T) {
	store := newMemChunkStore()
	now := int64(1_000_000)
	store.byID["old"] = Chunk{ID: "old", Timestamp: now - 40*86400, LastAccessedAt: now - 40*86400}
	store.byID["recent"] = Chunk{ID: "recent", Timestamp: now - 86400, LastAccessedAt: now - 86400}
	smm := NewSMM(store, nil, WithSMMClock(func() int64 { return now }))

	n, err := smm.PruneOldConversations(context.Background(), 30)
	if err != nil {
		t.Fatalf("PruneOldConversations failed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned count = %d, want 1", n)
	}
	if _, ok := store.byID["old"]; ok {
		t.Error("expected the stale chunk to be pruned")
	}
	if _, ok := store.byID["recent"]; !ok {
		t.Error("expected the recent chunk to survive")
	}
}

func TestSMMDecayUnusedFactsDropsBelowMinRelevance(t *testing.T) {
	store := newMemChunkStore()
	store.byID["unused"] = Chunk{ID: "unused", UsageCount: 0, RelevanceDecay: 0.11}
	smm := NewSMM(store, nil)

	if err := smm.DecayUnusedFacts(context.Background(), 1); err != nil {
		t.Fatalf("DecayUnusedFacts failed: %v", err)
	}
	// 0.11 * 0.8 = 0.088, below the default MinRelevance (0.1), so it's
	// dropped rather than merely decayed.
	if _, ok := store.byID["unused"]; ok {
		t.Error("expected the chunk to be evicted once below MinRelevance")
	}
}

func TestEvictionScoreAndSortForEviction(t *testing.T) {
	chunks := []Chunk{
		{ID: "a", RelevanceDecay: 1.0, UsageCount: 5, LastAccessedAt: 100},
		{ID: "b", RelevanceDecay: 0.1, UsageCount: 0, LastAccessedAt: 50},
		{ID: "c", RelevanceDecay: 0.1, UsageCount: 0, LastAccessedAt: 10},
	}
	SortForEviction(chunks)
	if chunks[0].ID != "c" || chunks[1].ID != "b" {
		t.Errorf("eviction order = %v, want c (oldest tie) then b then a", []string{chunks[0].ID, chunks[1].ID, chunks[2].ID})
	}
	if chunks[2].ID != "a" {
		t.Errorf("expected highest-score chunk a last, got %s", chunks[2].ID)
	}
}
