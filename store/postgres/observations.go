package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	veritas "github.com/nevindra/veritas"
)

var _ veritas.ObservationStore = (*Store)(nil)

// AppendObservation stores one append-only Observation (Self-Healing, §4.10).
func (s *Store) AppendObservation(ctx context.Context, o veritas.Observation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO observations (id, domain, key, value, source, authority, timestamp) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.Domain, o.Key, o.Value, o.Source, o.Authority, o.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: append observation: %w", err)
	}
	return nil
}

// ObservationsFor returns every Observation recorded for (domain,key), used
// by MIR's weighted aggregation (§4.7).
func (s *Store) ObservationsFor(ctx context.Context, domain, key string) ([]veritas.Observation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, domain, key, value, source, authority, timestamp FROM observations WHERE domain = $1 AND key = $2 ORDER BY timestamp ASC`,
		domain, key)
	if err != nil {
		return nil, fmt.Errorf("postgres: observations for: %w", err)
	}
	defer rows.Close()

	var obs []veritas.Observation
	for rows.Next() {
		var o veritas.Observation
		if err := rows.Scan(&o.ID, &o.Domain, &o.Key, &o.Value, &o.Source, &o.Authority, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan observation: %w", err)
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

// SaveConflict upserts MIR's current resolution for (domain,key), so the
// latest detection always replaces the prior record (§4.7, §4.10).
func (s *Store) SaveConflict(ctx context.Context, c veritas.Conflict) error {
	valuesJSON, err := json.Marshal(c.CompetingValues)
	if err != nil {
		return fmt.Errorf("postgres: marshal competing values: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conflicts (id, domain, key, competing_values, resolution, winning_value, resolved_at, open)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (domain, key) DO UPDATE SET
		   id = EXCLUDED.id, competing_values = EXCLUDED.competing_values,
		   resolution = EXCLUDED.resolution, winning_value = EXCLUDED.winning_value,
		   resolved_at = EXCLUDED.resolved_at, open = EXCLUDED.open`,
		c.ID, c.Domain, c.Key, valuesJSON, c.Resolution, c.WinningValue, c.ResolvedAt, c.Open)
	if err != nil {
		return fmt.Errorf("postgres: save conflict: %w", err)
	}
	return nil
}

// OpenConflicts returns every Conflict left open for manual review,
// optionally restricted to one domain (domain == "" returns every domain).
func (s *Store) OpenConflicts(ctx context.Context, domain string) ([]veritas.Conflict, error) {
	query := `SELECT id, domain, key, competing_values, resolution, winning_value, resolved_at, open FROM conflicts WHERE open`
	args := []any{}
	if domain != "" {
		query += ` AND domain = $1`
		args = append(args, domain)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: open conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []veritas.Conflict
	for rows.Next() {
		var c veritas.Conflict
		var valuesJSON []byte
		if err := rows.Scan(&c.ID, &c.Domain, &c.Key, &valuesJSON, &c.Resolution, &c.WinningValue, &c.ResolvedAt, &c.Open); err != nil {
			return nil, fmt.Errorf("postgres: scan conflict: %w", err)
		}
		if err := json.Unmarshal(valuesJSON, &c.CompetingValues); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal competing values: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}
