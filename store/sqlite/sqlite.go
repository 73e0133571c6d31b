// Package sqlite implements veritas's FactStore, ChunkStore,
// ObservationStore, PatternStore, and OptimizerStore on top of pure-Go
// SQLite, with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	veritas "github.com/nevindra/veritas"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements every veritas persistence interface backed by a local
// SQLite file: ChunkStore (this file), FactStore (facts.go),
// ObservationStore (observations.go), PatternStore (patterns.go), and
// OptimizerStore (optimizer.go). Embeddings are stored as JSON text and
// vector search is done in-process using brute-force cosine similarity.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ veritas.ChunkStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates every table this Store owns: SMM's chunks (ChunkStore), CMC's
// facts and adaptive-schema counters plus MCE's dependency graph
// (FactStore), Self-Healing's observations (ObservationStore), MLC's
// patterns (PatternStore), and Self-Optimizing's metrics/adjustments
// (OptimizerStore). One Store value backs every interface so components
// share a single serialized *sql.DB connection; CREATE TABLE IF NOT EXISTS
// makes calling Init from more than one component's setup path harmless.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	for _, stmt := range initStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

var initStatements = []string{
	`CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding TEXT,
		timestamp INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL,
		relevance_decay REAL NOT NULL DEFAULT 1.0,
		usage_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id, timestamp)`,

	`CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		fact_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		authority TEXT NOT NULL,
		status TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL,
		support_count INTEGER NOT NULL DEFAULT 0,
		embedding TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_facts_domain_key ON facts(domain, key)`,
	`CREATE INDEX IF NOT EXISTS idx_facts_status ON facts(status)`,

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
		timestamp INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_observations_domain_key ON observations(domain, key)`,

	`CREATE TABLE IF NOT EXISTS conflicts (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		key TEXT NOT NULL,
		competing_values TEXT NOT NULL,
		resolution TEXT NOT NULL,
		winning_value TEXT NOT NULL,
		resolved_at INTEGER NOT NULL,
		open INTEGER NOT NULL DEFAULT 0,
		UNIQUE (domain, key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conflicts_open ON conflicts(open)`,

	`CREATE TABLE IF NOT EXISTS learned_patterns (
		pattern TEXT NOT NULL,
		domain TEXT NOT NULL,
		successes INTEGER NOT NULL,
		total INTEGER NOT NULL,
		average_score REAL NOT NULL,
		threshold_delta REAL NOT NULL,
		PRIMARY KEY (pattern, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS cross_domain_patterns (
		pattern TEXT PRIMARY KEY,
		domains TEXT NOT NULL,
		confidence REAL NOT NULL,
		universal INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS metrics (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		value REAL NOT NULL,
		timestamp INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metrics_name_ts ON metrics(name, timestamp)`,
	`CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		parameter TEXT NOT NULL,
		old_value REAL NOT NULL,
		new_value REAL NOT NULL,
		reason TEXT NOT NULL,
		baseline_stats TEXT NOT NULL,
		result TEXT NOT NULL,
		proposed_at INTEGER NOT NULL,
		evaluate_after INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_adjustments_result ON adjustments(result)`,
}

// StoreChunk inserts or replaces a conversational chunk.
func (s *Store) StoreChunk(ctx context.Context, c veritas.Chunk) error {
	start := time.Now()
	s.logger.Debug("sqlite: store chunk", "id", c.ID, "session_id", c.SessionID, "role", c.Role)

	var embJSON *string
	if len(c.Embedding) > 0 {
		v := serializeEmbedding(c.Embedding)
		embJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, session_id, role, text, embedding, timestamp, last_accessed_at, relevance_decay, usage_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Role, c.Text, embJSON, c.Timestamp, c.LastAccessedAt, c.RelevanceDecay, c.UsageCount,
	)
	if err != nil {
		s.logger.Error("sqlite: store chunk failed", "id", c.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("store chunk: %w", err)
	}
	s.logger.Debug("sqlite: store chunk ok", "id", c.ID, "duration", time.Since(start))
	return nil
}

// SearchChunks performs brute-force cosine similarity search over every
// stored chunk (SMM retrieval, §4.2). SMM itself narrows by session via
// SessionHistory when session-scoping is needed.
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, topK int) ([]veritas.ScoredChunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search chunks", "top_k", topK, "embedding_dim", len(embedding))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, text, embedding, timestamp, last_accessed_at, relevance_decay, usage_count
		 FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		s.logger.Error("sqlite: search chunks failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []veritas.ScoredChunk
	scanned := 0
	for rows.Next() {
		var c veritas.Chunk
		var embJSON string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Role, &c.Text, &embJSON, &c.Timestamp, &c.LastAccessedAt, &c.RelevanceDecay, &c.UsageCount); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		scanned++
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		results = append(results, veritas.ScoredChunk{Chunk: c, Score: float64(cosineSimilarity(embedding, stored))})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search chunks ok", "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// SessionHistory returns a session's most recent k chunks, newest first.
func (s *Store) SessionHistory(ctx context.Context, sessionID string, k int) ([]veritas.Chunk, error) {
	start := time.Now()
	s.logger.Debug("sqlite: session history", "session_id", sessionID, "limit", k)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, text, timestamp, last_accessed_at, relevance_decay, usage_count
		 FROM chunks WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		sessionID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("session history: %w", err)
	}
	defer rows.Close()

	var chunks []veritas.Chunk
	for rows.Next() {
		var c veritas.Chunk
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Role, &c.Text, &c.Timestamp, &c.LastAccessedAt, &c.RelevanceDecay, &c.UsageCount); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	s.logger.Debug("sqlite: session history ok", "session_id", sessionID, "count", len(chunks), "duration", time.Since(start))
	return chunks, rows.Err()
}

// TouchChunk bumps a chunk's usage count and last-accessed timestamp.
func (s *Store) TouchChunk(ctx context.Context, id string, now int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET usage_count = usage_count + 1, last_accessed_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return fmt.Errorf("touch chunk: %w", err)
	}
	return nil
}

// ApplyDecay multiplies every chunk's relevance_decay by factor.
func (s *Store) ApplyDecay(ctx context.Context, factor float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chunks SET relevance_decay = relevance_decay * ?`, factor)
	if err != nil {
		return fmt.Errorf("apply decay: %w", err)
	}
	return nil
}

// DecayUnused multiplies relevance_decay by factor for chunks whose
// UsageCount is below usageThreshold, then deletes any chunk whose decay
// falls below minRelevance (§4.2 eviction).
func (s *Store) DecayUnused(ctx context.Context, usageThreshold int, factor, minRelevance float64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET relevance_decay = relevance_decay * ? WHERE usage_count < ?`, factor, usageThreshold); err != nil {
		return fmt.Errorf("decay unused: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE relevance_decay < ?`, minRelevance); err != nil {
		return fmt.Errorf("prune decayed: %w", err)
	}
	return nil
}

// PruneOlderThan deletes chunks whose most recent activity
// (max(last_accessed_at, timestamp)) is before cutoff, returning the count
// removed (SMM daily prune, §4.2).
func (s *Store) PruneOlderThan(ctx context.Context, cutoff int64) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE MAX(last_accessed_at, timestamp) < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune chunks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// AllChunks returns every chunk, for cache/eviction maintenance.
func (s *Store) AllChunks(ctx context.Context) ([]veritas.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, text, timestamp, last_accessed_at, relevance_decay, usage_count FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("all chunks: %w", err)
	}
	defer rows.Close()

	var chunks []veritas.Chunk
	for rows.Next() {
		var c veritas.Chunk
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Role, &c.Text, &c.Timestamp, &c.LastAccessedAt, &c.RelevanceDecay, &c.UsageCount); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteChunk removes one chunk by ID (eviction, §4.2).
func (s *Store) DeleteChunk(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chunk: %w", err)
	}
	return nil
}

// DB returns the underlying *sql.DB for sharing with MemoryStore.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// --- Vector math ---

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
