package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	veritas "github.com/nevindra/veritas"
)

// testStore connects to VERITAS_TEST_POSTGRES_DSN when set, otherwise skips.
// pgvector and HNSW indexes require a real server; there is no in-memory
// substitute worth faking.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("VERITAS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VERITAS_TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool, WithEmbeddingDimension(3))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestInitIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestStoreAndSearchChunks(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := veritas.Chunk{
		ID: "pg-c1", SessionID: "pg-sess1", Role: "user", Text: "hello",
		Embedding: []float32{1, 0, 0}, Timestamp: 100, LastAccessedAt: 100, RelevanceDecay: 1.0,
	}
	if err := s.StoreChunk(ctx, c); err != nil {
		t.Fatalf("StoreChunk: %v", err)
	}
	defer s.DeleteChunk(ctx, c.ID)

	results, err := s.SearchChunks(ctx, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	found := false
	for _, r := range results {
		if r.Chunk.ID == c.ID {
			found = true
			if r.Score < 0.99 {
				t.Errorf("expected near-perfect cosine similarity, got %f", r.Score)
			}
		}
	}
	if !found {
		t.Fatalf("expected chunk %s in search results, got %+v", c.ID, results)
	}
}

func TestUpsertAndGetFact(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	f := veritas.Fact{
		ID: "pg-f1", Domain: "identity", Key: "name", Value: "Alex",
		Authority: veritas.AuthorityStable, Status: veritas.FactStatusActive, Source: veritas.SourceChatUser,
		CreatedAt: 1, LastAccessedAt: 1,
	}
	if err := s.UpsertFact(ctx, f); err != nil {
		t.Fatalf("UpsertFact: %v", err)
	}
	defer s.SetFactStatus(ctx, f.ID, veritas.FactStatusDeprecated)

	got, ok, err := s.GetFact(ctx, "identity", "name")
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if !ok {
		t.Fatal("expected fact to exist")
	}
	if got.Value != "Alex" {
		t.Errorf("Value = %q, want %q", got.Value, "Alex")
	}
}

func TestAppendAndLoadObservations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	o := veritas.Observation{
		ID: "pg-o1", Domain: "identity", Key: "name", Value: "Alex",
		Source: veritas.SourceChatUser, Authority: veritas.AuthorityShortTerm, Timestamp: 1,
	}
	if err := s.AppendObservation(ctx, o); err != nil {
		t.Fatalf("AppendObservation: %v", err)
	}

	obs, err := s.ObservationsFor(ctx, "identity", "name")
	if err != nil {
		t.Fatalf("ObservationsFor: %v", err)
	}
	if len(obs) == 0 {
		t.Fatal("expected at least one observation")
	}
}

func TestSaveAndLoadPattern(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := veritas.LearnedPattern{Pattern: "pg-pattern", Domain: "identity", Successes: 3, Total: 5, AverageScore: 0.6}
	if err := s.SavePattern(ctx, p); err != nil {
		t.Fatalf("SavePattern: %v", err)
	}

	patterns, err := s.LoadPatterns(ctx, "identity")
	if err != nil {
		t.Fatalf("LoadPatterns: %v", err)
	}
	found := false
	for _, got := range patterns {
		if got.Pattern == "pg-pattern" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected saved pattern to be loaded back")
	}
}

func TestRecordAndReadMetrics(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.RecordMetric(ctx, veritas.Metric{Name: "pg_metric", Value: 1.5, Timestamp: 100}); err != nil {
		t.Fatalf("RecordMetric: %v", err)
	}

	metrics, err := s.RecentMetrics(ctx, "pg_metric", 0)
	if err != nil {
		t.Fatalf("RecentMetrics: %v", err)
	}
	if len(metrics) == 0 {
		t.Fatal("expected at least one recorded metric")
	}
}
