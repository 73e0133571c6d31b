package sqlite

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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learned_patterns (pattern, domain, successes, total, average_score, threshold_delta)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(pattern, domain) DO UPDATE SET
		   successes = excluded.successes, total = excluded.total,
		   average_score = excluded.average_score, threshold_delta = excluded.threshold_delta`,
		p.Pattern, p.Domain, p.Successes, p.Total, p.AverageScore, p.ThresholdDelta)
	if err != nil {
		return fmt.Errorf("save pattern: %w", err)
	}
	return nil
}

// LoadPatterns returns every LearnedPattern recorded for domain.
func (s *Store) LoadPatterns(ctx context.Context, domain string) ([]veritas.LearnedPattern, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pattern, domain, successes, total, average_score, threshold_delta FROM learned_patterns WHERE domain = ?`, domain)
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	defer rows.Close()

	var patterns []veritas.LearnedPattern
	for rows.Next() {
		var p veritas.LearnedPattern
		if err := rows.Scan(&p.Pattern, &p.Domain, &p.Successes, &p.Total, &p.AverageScore, &p.ThresholdDelta); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
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
		return fmt.Errorf("marshal domains: %w", err)
	}
	universal := 0
	if p.Universal {
		universal = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cross_domain_patterns (pattern, domains, confidence, universal) VALUES (?, ?, ?, ?)
		 ON CONFLICT(pattern) DO UPDATE SET domains = excluded.domains, confidence = excluded.confidence, universal = excluded.universal`,
		p.Pattern, string(domainsJSON), p.Confidence, universal)
	if err != nil {
		return fmt.Errorf("save cross-domain pattern: %w", err)
	}
	return nil
}

// LoadCrossDomainPatterns returns every recorded CrossDomainPattern.
func (s *Store) LoadCrossDomainPatterns(ctx context.Context) ([]veritas.CrossDomainPattern, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pattern, domains, confidence, universal FROM cross_domain_patterns`)
	if err != nil {
		return nil, fmt.Errorf("load cross-domain patterns: %w", err)
	}
	defer rows.Close()

	var patterns []veritas.CrossDomainPattern
	for rows.Next() {
		var p veritas.CrossDomainPattern
		var domainsJSON string
		var universal int
		if err := rows.Scan(&p.Pattern, &domainsJSON, &p.Confidence, &universal); err != nil {
			return nil, fmt.Errorf("scan cross-domain pattern: %w", err)
		}
		if err := json.Unmarshal([]byte(domainsJSON), &p.Domains); err != nil {
			return nil, fmt.Errorf("unmarshal domains: %w", err)
		}
		p.Universal = universal != 0
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}
