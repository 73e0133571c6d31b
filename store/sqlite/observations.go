package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	veritas "github.com/nevindra/veritas"
)

var _ veritas.ObservationStore = (*Store)(nil)

// AppendObservation stores one append-only Observation (Self-Healing, §4.10).
func (s *Store) AppendObservation(ctx context.Context, o veritas.Observation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (id, domain, key, value, source, authority, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Domain, o.Key, o.Value, o.Source, o.Authority, o.Timestamp)
	if err != nil {
		return fmt.Errorf("append observation: %w", err)
	}
	return nil
}

// ObservationsFor returns every Observation recorded for (domain,key), used
// by MIR's weighted aggregation (§4.7).
func (s *Store) ObservationsFor(ctx context.Context, domain, key string) ([]veritas.Observation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, domain, key, value, source, authority, timestamp FROM observations WHERE domain = ? AND key = ? ORDER BY timestamp ASC`,
		domain, key)
	if err != nil {
		return nil, fmt.Errorf("observations for: %w", err)
	}
	defer rows.Close()

	var obs []veritas.Observation
	for rows.Next() {
		var o veritas.Observation
		if err := rows.Scan(&o.ID, &o.Domain, &o.Key, &o.Value, &o.Source, &o.Authority, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
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
		return fmt.Errorf("marshal competing values: %w", err)
	}
	open := 0
	if c.Open {
		open = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conflicts (id, domain, key, competing_values, resolution, winning_value, resolved_at, open)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(domain, key) DO UPDATE SET
		   id = excluded.id, competing_values = excluded.competing_values,
		   resolution = excluded.resolution, winning_value = excluded.winning_value,
		   resolved_at = excluded.resolved_at, open = excluded.open`,
		c.ID, c.Domain, c.Key, string(valuesJSON), c.Resolution, c.WinningValue, c.ResolvedAt, open)
	if err != nil {
		return fmt.Errorf("save conflict: %w", err)
	}
	return nil
}

// OpenConflicts returns every Conflict left open for manual review,
// optionally restricted to one domain (domain == "" returns every domain).
func (s *Store) OpenConflicts(ctx context.Context, domain string) ([]veritas.Conflict, error) {
	query := `SELECT id, domain, key, competing_values, resolution, winning_value, resolved_at, open FROM conflicts WHERE open = 1`
	args := []any{}
	if domain != "" {
		query += ` AND domain = ?`
		args = append(args, domain)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("open conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []veritas.Conflict
	for rows.Next() {
		var c veritas.Conflict
		var valuesJSON string
		var open int
		if err := rows.Scan(&c.ID, &c.Domain, &c.Key, &valuesJSON, &c.Resolution, &c.WinningValue, &c.ResolvedAt, &open); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		if err := json.Unmarshal([]byte(valuesJSON), &c.CompetingValues); err != nil {
			return nil, fmt.Errorf("unmarshal competing values: %w", err)
		}
		c.Open = open != 0
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}
