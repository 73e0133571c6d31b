package veritas

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/nevindra/veritas/config"
)

// SMMOption configures a SMM.
type SMMOption func(*SMM)

// WithSMMLogger sets a structured logger; unset means discard.
func WithSMMLogger(l *slog.Logger) SMMOption {
	return func(s *SMM) { s.logger = l }
}

// WithSMMConfig overrides the default SMMConfig.
func WithSMMConfig(cfg config.SMMConfig) SMMOption {
	return func(s *SMM) { s.cfg = cfg }
}

// WithSMMClock overrides the time source, for deterministic tests.
func WithSMMClock(nowFunc func() int64) SMMOption {
	return func(s *SMM) { s.nowFunc = nowFunc }
}

// SMM is the Semantic Mesh Memory: conversational Chunks with decay and
// pruning (§4.2).
type SMM struct {
	store    ChunkStore
	embedder EmbeddingProvider
	cfg      config.SMMConfig
	logger   *slog.Logger
	nowFunc  func() int64
}

// NewSMM constructs a SMM over a ChunkStore.
func NewSMM(store ChunkStore, embedder EmbeddingProvider, opts ...SMMOption) *SMM {
	s := &SMM{
		store:    store,
		embedder: embedder,
		cfg:      config.Default().SMM,
		logger:   nopLogger,
		nowFunc:  NowUnix,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StoreTurn embeds and persists one conversational turn with
// relevanceDecay=1.0, usageCount=0 (§4.2).
func (s *SMM) StoreTurn(ctx context.Context, sessionID, role, text string) (Chunk, error) {
	chunk := Chunk{
		ID:             NewID(),
		SessionID:      sessionID,
		Role:           role,
		Text:           text,
		Timestamp:      s.nowFunc(),
		LastAccessedAt: s.nowFunc(),
		UsageCount:     0,
		RelevanceDecay: 1.0,
	}
	if s.embedder != nil {
		if vecs, err := s.embedder.Embed(ctx, []string{text}); err == nil && len(vecs) == 1 {
			chunk.Embedding = vecs[0]
		}
	}
	if err := s.store.StoreChunk(ctx, chunk); err != nil {
		return Chunk{}, &BackendUnavailableError{Backend: "chunk_store", Err: err}
	}
	return chunk, nil
}

// SearchContext returns Chunks ordered by cos(query,chunk) × relevanceDecay,
// filtered by threshold, bumping usageCount and lastAccessedAt on hit
// (§4.2). On embedder failure, returns an empty result rather than failing
// the turn.
func (s *SMM) SearchContext(ctx context.Context, queryText string, k int, threshold float64) ([]ScoredChunk, error) {
	if s.embedder == nil {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{queryText})
	if err != nil || len(vecs) != 1 {
		s.logger.Warn("smm: embed failed, returning empty context", "error", err)
		return nil, nil
	}
	results, err := s.store.SearchChunks(ctx, vecs[0], k*4)
	if err != nil {
		return nil, &BackendUnavailableError{Backend: "chunk_store", Err: err}
	}

	now := s.nowFunc()
	filtered := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		score := r.Score * r.Chunk.RelevanceDecay
		if score < threshold {
			continue
		}
		r.Score = score
		filtered = append(filtered, r)
		if err := s.store.TouchChunk(ctx, r.Chunk.ID, now); err != nil {
			s.logger.Warn("smm: touch chunk failed", "id", r.Chunk.ID, "error", err)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })
	if len(filtered) > k {
		filtered = filtered[:k]
	}
	return filtered, nil
}

// GetSessionHistory returns the most recent k chunks for sessionID.
func (s *SMM) GetSessionHistory(ctx context.Context, sessionID string, k int) ([]Chunk, error) {
	chunks, err := s.store.SessionHistory(ctx, sessionID, k)
	if err != nil {
		return nil, &BackendUnavailableError{Backend: "chunk_store", Err: err}
	}
	return chunks, nil
}

// PruneOldConversations removes every chunk whose own most recent activity
// is older than days ago (§4.2). Chunks are judged one by one, not by
// session: an old chunk is removed even when its session has newer ones.
func (s *SMM) PruneOldConversations(ctx context.Context, days int) (int, error) {
	cutoff := s.nowFunc() - int64(days)*86400
	n, err := s.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, &BackendUnavailableError{Backend: "chunk_store", Err: err}
	}
	s.logger.Info("smm: pruned old conversations", "count", n, "cutoff", cutoff)
	return n, nil
}

// DecayUnusedFacts multiplies relevanceDecay by 0.8 for chunks with
// usageCount below usageThreshold, dropping below minRelevance (§4.2).
func (s *SMM) DecayUnusedFacts(ctx context.Context, usageThreshold int) error {
	if err := s.store.DecayUnused(ctx, usageThreshold, 0.8, s.cfg.MinRelevance); err != nil {
		return &BackendUnavailableError{Backend: "chunk_store", Err: err}
	}
	return nil
}

// ApplyTemporalDecay multiplies every chunk's relevanceDecay by decayRate,
// idempotent within one calendar day per caller discipline (§4.2, §8).
func (s *SMM) ApplyTemporalDecay(ctx context.Context) error {
	start := time.Now()
	if err := s.store.ApplyDecay(ctx, s.cfg.DecayRate); err != nil {
		return &BackendUnavailableError{Backend: "chunk_store", Err: err}
	}
	s.logger.Debug("smm: applied temporal decay", "rate", s.cfg.DecayRate, "duration", time.Since(start))
	return nil
}

// EvictionScore returns the eviction priority for cap-breach pruning: lowest
// relevanceDecay × usageCount first, ties broken by oldest lastAccessedAt
// (§4.2). Lower is evicted first.
func EvictionScore(c Chunk) float64 {
	return c.RelevanceDecay * float64(c.UsageCount)
}

// SortForEviction orders chunks by ascending eviction priority.
func SortForEviction(chunks []Chunk) {
	sort.Slice(chunks, func(i, j int) bool {
		si, sj := EvictionScore(chunks[i]), EvictionScore(chunks[j])
		if math.Abs(si-sj) > 1e-9 {
			return si < sj
		}
		return chunks[i].LastAccessedAt < chunks[j].LastAccessedAt
	})
}
