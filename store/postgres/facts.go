package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	veritas "github.com/nevindra/veritas"
)

var _ veritas.FactStore = (*Store)(nil)

// UpsertFact inserts a new Fact or overwrites an existing one at the same
// ID (CMC, §4.1).
func (s *Store) UpsertFact(ctx context.Context, f veritas.Fact) error {
	var embStr *string
	if len(f.Embedding) > 0 {
		v := serializeEmbedding(f.Embedding)
		embStr = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO facts (id, domain, key, value, fact_type, confidence, authority, status, source, created_at, last_accessed_at, support_count, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::vector)
		 ON CONFLICT (id) DO UPDATE SET
		   domain = EXCLUDED.domain, key = EXCLUDED.key, value = EXCLUDED.value,
		   fact_type = EXCLUDED.fact_type, confidence = EXCLUDED.confidence, authority = EXCLUDED.authority,
		   status = EXCLUDED.status, source = EXCLUDED.source, created_at = EXCLUDED.created_at,
		   last_accessed_at = EXCLUDED.last_accessed_at, support_count = EXCLUDED.support_count,
		   embedding = EXCLUDED.embedding`,
		f.ID, f.Domain, f.Key, f.Value, f.FactType, f.Confidence, f.Authority, f.Status, f.Source,
		f.CreatedAt, f.LastAccessedAt, f.SupportCount, embStr)
	if err != nil {
		return fmt.Errorf("postgres: upsert fact: %w", err)
	}
	return nil
}

// GetFact returns the current ACTIVE/STABLE Fact for (domain,key), or
// ok=false if none exists.
func (s *Store) GetFact(ctx context.Context, domain, key string) (veritas.Fact, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, domain, key, value, fact_type, confidence, authority, status, source, created_at, last_accessed_at, support_count, embedding
		 FROM facts WHERE domain = $1 AND key = $2 AND status IN ('ACTIVE', 'STABLE')
		 ORDER BY CASE status WHEN 'STABLE' THEN 0 ELSE 1 END LIMIT 1`,
		domain, key)
	f, err := scanFactRow(row)
	if err == pgx.ErrNoRows {
		return veritas.Fact{}, false, nil
	}
	if err != nil {
		return veritas.Fact{}, false, fmt.Errorf("postgres: get fact: %w", err)
	}
	return f, true, nil
}

// GetFactsByDomainKey returns every non-deprecated Fact for (domain,key),
// used by MIR to detect conflicts.
func (s *Store) GetFactsByDomainKey(ctx context.Context, domain, key string) ([]veritas.Fact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, domain, key, value, fact_type, confidence, authority, status, source, created_at, last_accessed_at, support_count, embedding
		 FROM facts WHERE domain = $1 AND key = $2 AND status != 'DEPRECATED'`, domain, key)
	if err != nil {
		return nil, fmt.Errorf("postgres: facts by domain key: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// SearchFacts performs pgvector cosine-distance search, restricted to the
// given domains when non-empty (empty = unrestricted), truncated to topK
// (§4.1 vector query).
func (s *Store) SearchFacts(ctx context.Context, embedding []float32, domains []string, topK int) ([]veritas.ScoredFact, error) {
	embStr := serializeEmbedding(embedding)
	query := `SELECT id, domain, key, value, fact_type, confidence, authority, status, source, created_at, last_accessed_at, support_count, embedding,
	                 1 - (embedding <=> $1::vector) AS score
	          FROM facts WHERE status != 'DEPRECATED' AND embedding IS NOT NULL`
	args := []any{embStr}
	if len(domains) > 0 {
		placeholders := make([]string, len(domains))
		for i, d := range domains {
			args = append(args, d)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" AND domain IN (%s)", strings.Join(placeholders, ", "))
	}
	query += " ORDER BY embedding <=> $1::vector LIMIT " + fmt.Sprintf("%d", topK)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search facts: %w", err)
	}
	defer rows.Close()

	var results []veritas.ScoredFact
	for rows.Next() {
		var f veritas.Fact
		var embStr string
		var score float32
		if err := rows.Scan(&f.ID, &f.Domain, &f.Key, &f.Value, &f.FactType, &f.Confidence, &f.Authority,
			&f.Status, &f.Source, &f.CreatedAt, &f.LastAccessedAt, &f.SupportCount, &embStr, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan scored fact: %w", err)
		}
		results = append(results, veritas.ScoredFact{Fact: f, Score: float64(score)})
	}
	return results, rows.Err()
}

// DeprecateFact marks a Fact DEPRECATED without deleting it (§3 invariant 4).
func (s *Store) DeprecateFact(ctx context.Context, id string) error {
	return s.SetFactStatus(ctx, id, veritas.FactStatusDeprecated)
}

// SetFactStatus updates a Fact's status in place (MCA decay, MCE invalidation).
func (s *Store) SetFactStatus(ctx context.Context, id string, status veritas.FactStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE facts SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("postgres: set fact status: %w", err)
	}
	return nil
}

// CountFacts returns the total fact count, or the count for one domain
// (domain == "" counts all domains).
func (s *Store) CountFacts(ctx context.Context, domain string) (int, error) {
	var n int
	var err error
	if domain == "" {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM facts WHERE status != 'DEPRECATED'`).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM facts WHERE status != 'DEPRECATED' AND domain = $1`, domain).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: count facts: %w", err)
	}
	return n, nil
}

// AllFacts returns every non-deprecated Fact, used by MCA's periodic decay
// scan.
func (s *Store) AllFacts(ctx context.Context) ([]veritas.Fact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, domain, key, value, fact_type, confidence, authority, status, source, created_at, last_accessed_at, support_count, embedding
		 FROM facts WHERE status != 'DEPRECATED'`)
	if err != nil {
		return nil, fmt.Errorf("postgres: all facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// --- adaptive schema ---

// IncrementUsage bumps the usage counter for (domain,key) and returns the
// new count (CMC auto-create/auto-learn thresholds, §4.1).
func (s *Store) IncrementUsage(ctx context.Context, domain, key string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO schema_usage (domain, key, count) VALUES ($1, $2, 1)
		 ON CONFLICT (domain, key) DO UPDATE SET count = schema_usage.count + 1
		 RETURNING count`,
		domain, key).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: increment usage: %w", err)
	}
	return count, nil
}

// KnownKeys returns every learned key in domain, for the fuzzy matcher.
func (s *Store) KnownKeys(ctx context.Context, domain string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key FROM schema_known_keys WHERE domain = $1`, domain)
	if err != nil {
		return nil, fmt.Errorf("postgres: known keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("postgres: scan known key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// KnownDomains returns every domain (core + dynamically created).
func (s *Store) KnownDomains(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT domain FROM schema_known_domains`)
	if err != nil {
		return nil, fmt.Errorf("postgres: known domains: %w", err)
	}
	defer rows.Close()
	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("postgres: scan known domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// LearnKey records key as known in domain.
func (s *Store) LearnKey(ctx context.Context, domain, key string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO schema_known_keys (domain, key) VALUES ($1, $2) ON CONFLICT (domain, key) DO NOTHING`,
		domain, key)
	if err != nil {
		return fmt.Errorf("postgres: learn key: %w", err)
	}
	return nil
}

// LearnDomain records domain as dynamically created (schema growth is
// monotone, §3 invariant 5).
func (s *Store) LearnDomain(ctx context.Context, domain string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO schema_known_domains (domain) VALUES ($1) ON CONFLICT (domain) DO NOTHING`, domain)
	if err != nil {
		return fmt.Errorf("postgres: learn domain: %w", err)
	}
	return nil
}

// CountDynamicDomains returns how many domains were auto-created, bounded
// by maxDynamicDomains.
func (s *Store) CountDynamicDomains(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_known_domains`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count dynamic domains: %w", err)
	}
	return n, nil
}

// --- causality graph (MCE) ---

// AddDependency records that dependent depends on dependsOn.
func (s *Store) AddDependency(ctx context.Context, dependent, dependsOn string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fact_dependencies (dependent, depends_on) VALUES ($1, $2) ON CONFLICT (dependent, depends_on) DO NOTHING`,
		dependent, dependsOn)
	if err != nil {
		return fmt.Errorf("postgres: add dependency: %w", err)
	}
	return nil
}

// Dependents returns every Fact ID that depends on factID.
func (s *Store) Dependents(ctx context.Context, factID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT dependent FROM fact_dependencies WHERE depends_on = $1`, factID)
	if err != nil {
		return nil, fmt.Errorf("postgres: dependents: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("postgres: scan dependent: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// scanFact scans the thirteen-column fact projection shared by GetFact,
// GetFactsByDomainKey, and AllFacts, deserializing the pgvector embedding
// column (which pgx surfaces as text when not cast) back to []float32.
func scanFact(sc interface{ Scan(dest ...any) error }) (veritas.Fact, error) {
	var f veritas.Fact
	var embStr *string
	err := sc.Scan(&f.ID, &f.Domain, &f.Key, &f.Value, &f.FactType, &f.Confidence, &f.Authority, &f.Status, &f.Source,
		&f.CreatedAt, &f.LastAccessedAt, &f.SupportCount, &embStr)
	if err != nil {
		return f, err
	}
	if embStr != nil {
		f.Embedding = parseVectorLiteral(*embStr)
	}
	return f, nil
}

func scanFactRow(row pgx.Row) (veritas.Fact, error) {
	return scanFact(row)
}

func scanFacts(rows pgx.Rows) ([]veritas.Fact, error) {
	var facts []veritas.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// parseVectorLiteral parses pgvector's "[0.1,0.2,0.3]" text representation.
func parseVectorLiteral(s string) []float32 {
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		var v float32
		fmt.Sscanf(strings.TrimSpace(p), "%g", &v)
		out = append(out, v)
	}
	return out
}
