package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	veritas "github.com/nevindra/veritas"
)

var _ veritas.OptimizerStore = (*Store)(nil)

// RecordMetric appends one sample to Self-Optimizing's rolling metric
// history (§4.11).
func (s *Store) RecordMetric(ctx context.Context, m veritas.Metric) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO metrics (id, name, value, timestamp) VALUES ($1, $2, $3, $4)`,
		veritas.NewID(), m.Name, m.Value, m.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: record metric: %w", err)
	}
	return nil
}

// RecentMetrics returns every sample of name recorded since the given
// timestamp, oldest first.
func (s *Store) RecentMetrics(ctx context.Context, name veritas.MetricName, since int64) ([]veritas.Metric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, value, timestamp FROM metrics WHERE name = $1 AND timestamp >= $2 ORDER BY timestamp ASC`,
		name, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent metrics: %w", err)
	}
	defer rows.Close()

	var metrics []veritas.Metric
	for rows.Next() {
		var m veritas.Metric
		if err := rows.Scan(&m.Name, &m.Value, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// SaveAdjustment persists one Adjustment proposed by Self-Optimizing.
func (s *Store) SaveAdjustment(ctx context.Context, adj veritas.Adjustment) error {
	baseline, err := json.Marshal(adj.BaselineStats)
	if err != nil {
		return fmt.Errorf("postgres: marshal baseline stats: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO adjustments (id, parameter, old_value, new_value, reason, baseline_stats, result, proposed_at, evaluate_after)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   old_value = EXCLUDED.old_value, new_value = EXCLUDED.new_value, reason = EXCLUDED.reason,
		   baseline_stats = EXCLUDED.baseline_stats, result = EXCLUDED.result,
		   proposed_at = EXCLUDED.proposed_at, evaluate_after = EXCLUDED.evaluate_after`,
		adj.ID, adj.Parameter, adj.OldValue, adj.NewValue, adj.Reason, baseline, adj.Result,
		adj.ProposedAt, adj.EvaluateAfter)
	if err != nil {
		return fmt.Errorf("postgres: save adjustment: %w", err)
	}
	return nil
}

// PendingAdjustments returns every Adjustment still awaiting an
// ANCHORED/REVERTED outcome (§4.11, §7 optimization safety).
func (s *Store) PendingAdjustments(ctx context.Context) ([]veritas.Adjustment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, parameter, old_value, new_value, reason, baseline_stats, result, proposed_at, evaluate_after
		 FROM adjustments WHERE result = $1`, veritas.AdjustmentPending)
	if err != nil {
		return nil, fmt.Errorf("postgres: pending adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []veritas.Adjustment
	for rows.Next() {
		var adj veritas.Adjustment
		var baseline []byte
		if err := rows.Scan(&adj.ID, &adj.Parameter, &adj.OldValue, &adj.NewValue, &adj.Reason, &baseline,
			&adj.Result, &adj.ProposedAt, &adj.EvaluateAfter); err != nil {
			return nil, fmt.Errorf("postgres: scan adjustment: %w", err)
		}
		if len(baseline) > 0 {
			if err := json.Unmarshal(baseline, &adj.BaselineStats); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal baseline stats: %w", err)
			}
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}

// UpdateAdjustmentResult settles an Adjustment's final outcome: ANCHORED or
// REVERTED (safety rule: never left in an unknown state, §7).
func (s *Store) UpdateAdjustmentResult(ctx context.Context, id string, result veritas.AdjustmentResult) error {
	_, err := s.pool.Exec(ctx, `UPDATE adjustments SET result = $1 WHERE id = $2`, result, id)
	if err != nil {
		return fmt.Errorf("postgres: update adjustment result: %w", err)
	}
	return nil
}
