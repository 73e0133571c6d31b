package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	veritas "github.com/nevindra/veritas"
)

var _ veritas.PatternStore = (*Store)(nil)

// SavePattern persists one per-domain LearnedPattern so MLC's statistics
// survive restart (§4.6 Persistence).
func (s *Store) SavePattern(ctx context.Context, p veritas.LearnedPattern) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO learned_patterns (pattern, domain, successes, total, average_score, threshold_delta)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (pattern, domain) DO UPDATE SET
		   successes = EXCLUDED.successes, total = EXCLUDED.total,
		   average_score = EXCLUDED.average_score, threshold_delta = EXCLUDED.threshold_delta`,
		p.Pattern, p.Domain, p.Successes, p.Total, p.AverageScore, p.ThresholdDelta)
	if err != nil {
		return fmt.Errorf("postgres: save pattern: %w", err)
	}
	return nil
}

// LoadPatterns returns every LearnedPattern recorded for domain.
func (s *Store) LoadPatterns(ctx context.Context, domain string) ([]veritas.LearnedPattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pattern, domain, successes, total, average_score, threshold_delta FROM learned_patterns WHERE domain = $1`, domain)
	if err != nil {
		return nil, fmt.Errorf("postgres: load patterns: %w", err)
	}
	defer rows.Close()

	var patterns []veritas.LearnedPattern
	for rows.Next() {
		var p veritas.LearnedPattern
		if err := rows.Scan(&p.Pattern, &p.Domain, &p.Successes, &p.Total, &p.AverageScore, &p.ThresholdDelta); err != nil {
			return nil, fmt.Errorf("postgres: scan pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// SaveCrossDomainPattern persists one CrossDomainPattern, marking it
// universal when validated in enough distinct domains (§4.6).
func (s *Store) SaveCrossDomainPattern(ctx context.Context, p veritas.CrossDomainPattern) error {
	domainsJSON, err := json.Marshal(p.Domains)
	if err != nil {
		return fmt.Errorf("postgres: marshal domains: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO cross_domain_patterns (pattern, domains, confidence, universal) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (pattern) DO UPDATE SET domains = EXCLUDED.domains, confidence = EXCLUDED.confidence, universal = EXCLUDED.universal`,
		p.Pattern, domainsJSON, p.Confidence, p.Universal)
	if err != nil {
		return fmt.Errorf("postgres: save cross-domain pattern: %w", err)
	}
	return nil
}

// LoadCrossDomainPatterns returns every recorded CrossDomainPattern.
func (s *Store) LoadCrossDomainPatterns(ctx context.Context) ([]veritas.CrossDomainPattern, error) {
	rows, err := s.pool.Query(ctx, `SELECT pattern, domains, confidence, universal FROM cross_domain_patterns`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load cross-domain patterns: %w", err)
	}
	defer rows.Close()

	var patterns []veritas.CrossDomainPattern
	for rows.Next() {
		var p veritas.CrossDomainPattern
		var domainsJSON []byte
		if err := rows.Scan(&p.Pattern, &domainsJSON, &p.Confidence, &p.Universal); err != nil {
			return nil, fmt.Errorf("postgres: scan cross-domain pattern: %w", err)
		}
		if err := json.Unmarshal(domainsJSON, &p.Domains); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal domains: %w", err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}
