package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	veritas "github.com/nevindra/veritas"
)

var _ veritas.FactStore = (*Store)(nil)

// UpsertFact inserts a new Fact or overwrites an existing one at the same
// ID (CMC, §4.1).
func (s *Store) UpsertFact(ctx context.Context, f veritas.Fact) error {
	start := time.Now()
	s.logger.Debug("sqlite: upsert fact", "id", f.ID, "domain", f.Domain, "key", f.Key)

	var embJSON *string
	if len(f.Embedding) > 0 {
		v := serializeEmbedding(f.Embedding)
		embJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO facts (id, domain, key, value, fact_type, confidence, authority, status, source, created_at, last_accessed_at, support_count, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Domain, f.Key, f.Value, f.FactType, f.Confidence, f.Authority, f.Status, f.Source,
		f.CreatedAt, f.LastAccessedAt, f.SupportCount, embJSON,
	)
	if err != nil {
		s.logger.Error("sqlite: upsert fact failed", "id", f.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("upsert fact: %w", err)
	}
	s.logger.Debug("sqlite: upsert fact ok", "id", f.ID, "duration", time.Since(start))
	return nil
}

// GetFact returns the current ACTIVE/STABLE Fact for (domain,key).
func (s *Store) GetFact(ctx context.Context, domain, key string) (veritas.Fact, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, domain, key, value, fact_type, confidence, authority, status, source, created_at, last_accessed_at, support_count, embedding
		 FROM facts WHERE domain = ? AND key = ? AND status IN ('ACTIVE', 'STABLE')
		 ORDER BY CASE status WHEN 'STABLE' THEN 0 ELSE 1 END LIMIT 1`,
		domain, key)
	f, embJSON, err := scanFact(row)
	if err == sql.ErrNoRows {
		return veritas.Fact{}, false, nil
	}
	if err != nil {
		return veritas.Fact{}, false, fmt.Errorf("get fact: %w", err)
	}
	if embJSON != "" {
		f.Embedding, _ = deserializeEmbedding(embJSON)
	}
	return f, true, nil
}

// GetFactsByDomainKey returns every non-deprecated Fact for (domain,key),
// used by MIR to detect conflicts.
func (s *Store) GetFactsByDomainKey(ctx context.Context, domain, key string) ([]veritas.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, domain, key, value, fact_type, confidence, authority, status, source, created_at, last_accessed_at, support_count, embedding
		 FROM facts WHERE domain = ? AND key = ? AND status != 'DEPRECATED'`,
		domain, key)
	if err != nil {
		return nil, fmt.Errorf("get facts by domain key: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// SearchFacts performs brute-force cosine similarity search, optionally
// restricted to a set of domains (empty = unrestricted, §4.1 vector query).
func (s *Store) SearchFacts(ctx context.Context, embedding []float32, domains []string, topK int) ([]veritas.ScoredFact, error) {
	start := time.Now()
	query := `SELECT id, domain, key, value, fact_type, confidence, authority, status, source, created_at, last_accessed_at, support_count, embedding
		FROM facts WHERE status != 'DEPRECATED' AND embedding IS NOT NULL`
	var args []any
	if len(domains) > 0 {
		placeholders := ""
		for i, d := range domains {
			if i > 0 {
				placeholders += ","
			}
			placeholders += "?"
			args = append(args, d)
		}
		query += fmt.Sprintf(" AND domain IN (%s)", placeholders)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search facts: %w", err)
	}
	defer rows.Close()

	var results []veritas.ScoredFact
	for rows.Next() {
		f, embJSON, err := scanFactRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		stored, err := deserializeEmbedding(embJSON)
		if err != nil {
			continue
		}
		results = append(results, veritas.ScoredFact{Fact: f, Score: float64(cosineSimilarity(embedding, stored))})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: search facts ok", "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// DeprecateFact marks a Fact DEPRECATED without deleting it (§3 invariant 4).
func (s *Store) DeprecateFact(ctx context.Context, id string) error {
	return s.SetFactStatus(ctx, id, veritas.FactStatusDeprecated)
}

// SetFactStatus updates a Fact's status in place (MCA decay, MCE invalidation).
func (s *Store) SetFactStatus(ctx context.Context, id string, status veritas.FactStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE facts SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("set fact status: %w", err)
	}
	return nil
}

// CountFacts returns the total fact count, or the count for one domain.
func (s *Store) CountFacts(ctx context.Context, domain string) (int, error) {
	var n int
	var err error
	if domain == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts WHERE status != 'DEPRECATED'`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts WHERE status != 'DEPRECATED' AND domain = ?`, domain).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return n, nil
}

// AllFacts returns every non-deprecated Fact, used by MCA's periodic decay
// scan.
func (s *Store) AllFacts(ctx context.Context) ([]veritas.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, domain, key, value, fact_type, confidence, authority, status, source, created_at, last_accessed_at, support_count, embedding
		 FROM facts WHERE status != 'DEPRECATED'`)
	if err != nil {
		return nil, fmt.Errorf("all facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

// --- adaptive schema ---

// IncrementUsage bumps the usage counter for (domain,key) and returns the
// new count (CMC auto-create/auto-learn thresholds, §4.1).
func (s *Store) IncrementUsage(ctx context.Context, domain, key string) (int, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schema_usage (domain, key, count) VALUES (?, ?, 1)
		 ON CONFLICT(domain, key) DO UPDATE SET count = count + 1`, domain, key)
	if err != nil {
		return 0, fmt.Errorf("increment usage: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count FROM schema_usage WHERE domain = ? AND key = ?`, domain, key).Scan(&count); err != nil {
		return 0, fmt.Errorf("read usage: %w", err)
	}
	return count, nil
}

// KnownKeys returns every learned key in domain, for the fuzzy matcher.
func (s *Store) KnownKeys(ctx context.Context, domain string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM schema_known_keys WHERE domain = ?`, domain)
	if err != nil {
		return nil, fmt.Errorf("known keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan known key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// KnownDomains returns every domain dynamically created beyond the core set.
func (s *Store) KnownDomains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain FROM schema_known_domains`)
	if err != nil {
		return nil, fmt.Errorf("known domains: %w", err)
	}
	defer rows.Close()
	var domains []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan known domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// LearnKey records key as known in domain.
func (s *Store) LearnKey(ctx context.Context, domain, key string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO schema_known_keys (domain, key) VALUES (?, ?)`, domain, key)
	if err != nil {
		return fmt.Errorf("learn key: %w", err)
	}
	return nil
}

// LearnDomain records domain as dynamically created (schema growth is
// monotone, §3 invariant 5).
func (s *Store) LearnDomain(ctx context.Context, domain string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO schema_known_domains (domain) VALUES (?)`, domain)
	if err != nil {
		return fmt.Errorf("learn domain: %w", err)
	}
	return nil
}

// CountDynamicDomains returns how many domains were auto-created, bounded
// by maxDynamicDomains.
func (s *Store) CountDynamicDomains(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_known_domains`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dynamic domains: %w", err)
	}
	return n, nil
}

// --- causality graph (MCE) ---

// AddDependency records that dependent depends on dependsOn.
func (s *Store) AddDependency(ctx context.Context, dependent, dependsOn string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO fact_dependencies (dependent, depends_on) VALUES (?, ?)`, dependent, dependsOn)
	if err != nil {
		return fmt.Errorf("add dependency: %w", err)
	}
	return nil
}

// Dependents returns every Fact ID that depends on factID.
func (s *Store) Dependents(ctx context.Context, factID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT dependent FROM fact_dependencies WHERE depends_on = ?`, factID)
	if err != nil {
		return nil, fmt.Errorf("dependents: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan dependent: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanFact/scanFactRows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (veritas.Fact, string, error) {
	var f veritas.Fact
	var embJSON sql.NullString
	err := row.Scan(&f.ID, &f.Domain, &f.Key, &f.Value, &f.FactType, &f.Confidence, &f.Authority, &f.Status, &f.Source,
		&f.CreatedAt, &f.LastAccessedAt, &f.SupportCount, &embJSON)
	return f, embJSON.String, err
}

func scanFactRows(rows *sql.Rows) (veritas.Fact, string, error) {
	return scanFact(rows)
}

func scanFacts(rows *sql.Rows) ([]veritas.Fact, error) {
	var facts []veritas.Fact
	for rows.Next() {
		f, embJSON, err := scanFactRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		if embJSON != "" {
			f.Embedding, _ = deserializeEmbedding(embJSON)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
