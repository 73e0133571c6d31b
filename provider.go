package veritas

import "context"

// Provider abstracts the LLM backend used for AME's stage B contradiction
// probe; override synthesis does not call it. The model itself is an explicit non-goal
// of this module (§1) — callers supply a concrete implementation.
type Provider interface {
	// Chat sends a chat-style request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "gemini", "anthropic").
	Name() string
}

// EmbeddingProvider abstracts text embedding, used by CMC's vector query,
// SMM's semantic search, and DDE's exemplar similarity signal.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size; must match the fixed
	// dimension declared at store init.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// GraphStore is GMM's thin external contract. Timeouts and connection
// retries are the implementation's responsibility; callers receive
// BackendUnavailableError on failure and proceed without it (§4.3).
type GraphStore interface {
	StoreConcept(ctx context.Context, c Concept) error
	LinkConcepts(ctx context.Context, from, to string, relType RelationType, weight float64) error
	FindRelated(ctx context.Context, name string, maxDepth int) ([]RelatedConcept, error)
	RunQuery(ctx context.Context, structuredQuery string) ([]map[string]any, error)
}
