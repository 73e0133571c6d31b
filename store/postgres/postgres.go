// Package postgres implements veritas's ChunkStore using PostgreSQL with
// pgvector for native vector similarity search via HNSW indexes. The other
// persistence interfaces (FactStore, ObservationStore, PatternStore,
// OptimizerStore) are implemented alongside in facts.go, observations.go,
// patterns.go, and optimizer.go, sharing the same pool and vector config.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	veritas "github.com/nevindra/veritas"
)

// Store implements veritas.ChunkStore (and, across the other files in this
// package, FactStore/ObservationStore/PatternStore/OptimizerStore) backed by
// PostgreSQL with pgvector. Vector search uses HNSW indexes with cosine
// distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector (current behavior)
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds. Default: pgvector's 64.
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Higher values improve recall at the cost of latency. Default:
// pgvector's 40. Applied via SET during Init().
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

var _ veritas.ChunkStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension and every table/index this Store
// owns across ChunkStore (this file), FactStore (facts.go), ObservationStore
// (observations.go), PatternStore (patterns.go), and OptimizerStore
// (optimizer.go). Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding %s,
			timestamp BIGINT NOT NULL,
			last_accessed_at BIGINT NOT NULL,
			relevance_decay DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			usage_count INTEGER NOT NULL DEFAULT 0
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id, timestamp)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			fact_type TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			authority TEXT NOT NULL,
			status TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			last_accessed_at BIGINT NOT NULL,
			support_count INTEGER NOT NULL DEFAULT 0,
			embedding %s
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS idx_facts_domain_key ON facts(domain, key)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_status ON facts(status)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS facts_embedding_idx ON facts USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),

		`CREATE TABLE IF NOT EXISTS schema_usage (
			domain TEXT NOT NULL,
			key TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (domain, key)
		)`,
		`CREATE TABLE IF NOT EXISTS schema_known_keys (
			domain TEXT NOT NULL,
			key TEXT NOT NULL,
			PRIMARY KEY (domain, key)
		)`,
		`CREATE TABLE IF NOT EXISTS schema_known_domains (
			domain TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS fact_dependencies (
			dependent TEXT NOT NULL,
			depends_on TEXT NOT NULL,
			PRIMARY KEY (dependent, depends_on)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fact_deps_depends_on ON fact_dependencies(depends_on)`,

		`CREATE TABLE IF NOT EXISTS observations (
			id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			source TEXT NOT NULL,
			authority TEXT NOT NULL,
			timestamp BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_domain_key ON observations(domain, key)`,

		`CREATE TABLE IF NOT EXISTS conflicts (
			id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			key TEXT NOT NULL,
			competing_values JSONB NOT NULL,
			resolution TEXT NOT NULL,
			winning_value TEXT NOT NULL,
			resolved_at BIGINT NOT NULL,
			open BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (domain, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_open ON conflicts(open)`,

		`CREATE TABLE IF NOT EXISTS learned_patterns (
			pattern TEXT NOT NULL,
			domain TEXT NOT NULL,
			successes INTEGER NOT NULL,
			total INTEGER NOT NULL,
			average_score DOUBLE PRECISION NOT NULL,
			threshold_delta DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (pattern, domain)
		)`,
		`CREATE TABLE IF NOT EXISTS cross_domain_patterns (
			pattern TEXT PRIMARY KEY,
			domains JSONB NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			universal BOOLEAN NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS metrics (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			timestamp BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_name_ts ON metrics(name, timestamp)`,
		`CREATE TABLE IF NOT EXISTS adjustments (
			id TEXT PRIMARY KEY,
			parameter TEXT NOT NULL,
			old_value DOUBLE PRECISION NOT NULL,
			new_value DOUBLE PRECISION NOT NULL,
			reason TEXT NOT NULL,
			baseline_stats JSONB NOT NULL,
			result TEXT NOT NULL,
			proposed_at BIGINT NOT NULL,
			evaluate_after BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_adjustments_result ON adjustments(result)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}

	return nil
}

// StoreChunk inserts or replaces a conversational chunk.
func (s *Store) StoreChunk(ctx context.Context, c veritas.Chunk) error {
	if len(c.Embedding) > 0 {
		embStr := serializeEmbedding(c.Embedding)
		_, err := s.pool.Exec(ctx,
			`INSERT INTO chunks (id, session_id, role, text, embedding, timestamp, last_accessed_at, relevance_decay, usage_count)
			 VALUES ($1, $2, $3, $4, $5::vector, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE SET
			   session_id = EXCLUDED.session_id, role = EXCLUDED.role, text = EXCLUDED.text,
			   embedding = EXCLUDED.embedding, timestamp = EXCLUDED.timestamp,
			   last_accessed_at = EXCLUDED.last_accessed_at, relevance_decay = EXCLUDED.relevance_decay,
			   usage_count = EXCLUDED.usage_count`,
			c.ID, c.SessionID, c.Role, c.Text, embStr, c.Timestamp, c.LastAccessedAt, c.RelevanceDecay, c.UsageCount)
		if err != nil {
			return fmt.Errorf("postgres: store chunk: %w", err)
		}
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chunks (id, session_id, role, text, embedding, timestamp, last_accessed_at, relevance_decay, usage_count)
		 VALUES ($1, $2, $3, $4, NULL, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   session_id = EXCLUDED.session_id, role = EXCLUDED.role, text = EXCLUDED.text,
		   embedding = NULL, timestamp = EXCLUDED.timestamp,
		   last_accessed_at = EXCLUDED.last_accessed_at, relevance_decay = EXCLUDED.relevance_decay,
		   usage_count = EXCLUDED.usage_count`,
		c.ID, c.SessionID, c.Role, c.Text, c.Timestamp, c.LastAccessedAt, c.RelevanceDecay, c.UsageCount)
	if err != nil {
		return fmt.Errorf("postgres: store chunk: %w", err)
	}
	return nil
}

// SearchChunks performs pgvector cosine-distance search over the HNSW index
// (SMM retrieval, §4.2).
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, topK int) ([]veritas.ScoredChunk, error) {
	embStr := serializeEmbedding(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, text, timestamp, last_accessed_at, relevance_decay, usage_count,
		        1 - (embedding <=> $1::vector) AS score
		 FROM chunks
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector
		 LIMIT $2`,
		embStr, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search chunks: %w", err)
	}
	defer rows.Close()

	var results []veritas.ScoredChunk
	for rows.Next() {
		var c veritas.Chunk
		var score float32
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Role, &c.Text, &c.Timestamp, &c.LastAccessedAt, &c.RelevanceDecay, &c.UsageCount, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		results = append(results, veritas.ScoredChunk{Chunk: c, Score: float64(score)})
	}
	return results, rows.Err()
}

// SessionHistory returns a session's most recent k chunks, newest first.
func (s *Store) SessionHistory(ctx context.Context, sessionID string, k int) ([]veritas.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, text, timestamp, last_accessed_at, relevance_decay, usage_count
		 FROM chunks WHERE session_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`,
		sessionID, k)
	if err != nil {
		return nil, fmt.Errorf("postgres: session history: %w", err)
	}
	defer rows.Close()

	var chunks []veritas.Chunk
	for rows.Next() {
		var c veritas.Chunk
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Role, &c.Text, &c.Timestamp, &c.LastAccessedAt, &c.RelevanceDecay, &c.UsageCount); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// TouchChunk bumps a chunk's usage count and last-accessed timestamp.
func (s *Store) TouchChunk(ctx context.Context, id string, now int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE chunks SET usage_count = usage_count + 1, last_accessed_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		return fmt.Errorf("postgres: touch chunk: %w", err)
	}
	return nil
}

// ApplyDecay multiplies every chunk's relevance_decay by factor.
func (s *Store) ApplyDecay(ctx context.Context, factor float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE chunks SET relevance_decay = relevance_decay * $1`, factor)
	if err != nil {
		return fmt.Errorf("postgres: apply decay: %w", err)
	}
	return nil
}

// DecayUnused multiplies relevance_decay by factor for chunks whose
// UsageCount is below usageThreshold, then deletes any chunk whose decay
// falls below minRelevance.
func (s *Store) DecayUnused(ctx context.Context, usageThreshold int, factor, minRelevance float64) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE chunks SET relevance_decay = relevance_decay * $1 WHERE usage_count < $2`, factor, usageThreshold); err != nil {
		return fmt.Errorf("postgres: decay unused: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE relevance_decay < $1`, minRelevance); err != nil {
		return fmt.Errorf("postgres: prune decayed: %w", err)
	}
	return nil
}

// PruneOlderThan deletes chunks whose most recent activity
// (GREATEST(last_accessed_at, timestamp)) is before cutoff, returning the
// count removed (SMM daily prune, §4.2).
func (s *Store) PruneOlderThan(ctx context.Context, cutoff int64) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chunks WHERE GREATEST(last_accessed_at, timestamp) < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune chunks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// AllChunks returns every chunk, for cache/eviction maintenance.
func (s *Store) AllChunks(ctx context.Context) ([]veritas.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, text, timestamp, last_accessed_at, relevance_decay, usage_count FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("postgres: all chunks: %w", err)
	}
	defer rows.Close()

	var chunks []veritas.Chunk
	for rows.Next() {
		var c veritas.Chunk
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Role, &c.Text, &c.Timestamp, &c.LastAccessedAt, &c.RelevanceDecay, &c.UsageCount); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteChunk removes one chunk by ID.
func (s *Store) DeleteChunk(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete chunk: %w", err)
	}
	return nil
}

// Close releases no resources of its own: the pool is owned by the caller.
func (s *Store) Close() error {
	return nil
}

// serializeEmbedding formats a []float32 as pgvector's literal syntax,
// e.g. "[0.1,0.2,0.3]".
func serializeEmbedding(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", v)
	}
	b.WriteByte(']')
	return b.String()
}
