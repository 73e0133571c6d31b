package veritas

import (
	"context"
	"sync"
)

// memChunkStore is a minimal in-memory ChunkStore for tests.
type memChunkStore struct {
	mu   sync.Mutex
	byID map[string]Chunk
}

func newMemChunkStore() *memChunkStore {
	return &memChunkStore{byID: map[string]Chunk{}}
}

func (m *memChunkStore) Init(ctx context.Context) error { return nil }
func (m *memChunkStore) Close() error                    { return nil }

func (m *memChunkStore) StoreChunk(ctx context.Context, chunk Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[chunk.ID] = chunk
	return nil
}

func (m *memChunkStore) SearchChunks(ctx context.Context, embedding []float32, topK int) ([]ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ScoredChunk, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, ScoredChunk{Chunk: c, Score: 1.0})
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *memChunkStore) SessionHistory(ctx context.Context, sessionID string, k int) ([]Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Chunk
	for _, c := range m.byID {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memChunkStore) TouchChunk(ctx context.Context, id string, accessedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.byID[id]; ok {
		c.UsageCount++
		c.LastAccessedAt = accessedAt
		m.byID[id] = c
	}
	return nil
}

func (m *memChunkStore) ApplyDecay(ctx context.Context, factor float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.byID {
		c.RelevanceDecay *= factor
		m.byID[id] = c
	}
	return nil
}

func (m *memChunkStore) DecayUnused(ctx context.Context, usageThreshold int, factor, minRelevance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.byID {
		if c.UsageCount >= usageThreshold {
			continue
		}
		c.RelevanceDecay *= factor
		if c.RelevanceDecay < minRelevance {
			delete(m.byID, id)
			continue
		}
		m.byID[id] = c
	}
	return nil
}

func (m *memChunkStore) PruneOlderThan(ctx context.Context, cutoff int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, c := range m.byID {
		last := c.LastAccessedAt
		if c.Timestamp > last {
			last = c.Timestamp
		}
		if last < cutoff {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

func (m *memChunkStore) AllChunks(ctx context.Context) ([]Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Chunk, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, c)
	}
	return out, nil
}

func (m *memChunkStore) DeleteChunk(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

// constEmbedder returns a fixed-dimension, zero-filled embedding regardless
// of input text, enough to exercise code paths that merely require an
// embedder to be configured.
type constEmbedder struct {
	dims int
}

func (c constEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, c.dims)
	}
	return out, nil
}

func (c constEmbedder) Dimensions() int { return c.dims }
func (c constEmbedder) Name() string    { return "const" }
