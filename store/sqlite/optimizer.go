package sqlite

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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics (id, name, value, timestamp) VALUES (?, ?, ?, ?)`,
		veritas.NewID(), m.Name, m.Value, m.Timestamp)
	if err != nil {
		return fmt.Errorf("record metric: %w", err)
	}
	return nil
}

// RecentMetrics returns every sample of name recorded since the given
// timestamp, oldest first.
func (s *Store) RecentMetrics(ctx context.Context, name veritas.MetricName, since int64) ([]veritas.Metric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value, timestamp FROM metrics WHERE name = ? AND timestamp >= ? ORDER BY timestamp ASC`,
		name, since)
	if err != nil {
		return nil, fmt.Errorf("recent metrics: %w", err)
	}
	defer rows.Close()

	var metrics []veritas.Metric
	for rows.Next() {
		var m veritas.Metric
		if err := rows.Scan(&m.Name, &m.Value, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// SaveAdjustment persists one Adjustment proposed by MetaEvaluator.
func (s *Store) SaveAdjustment(ctx context.Context, adj veritas.Adjustment) error {
	baseline, err := json.Marshal(adj.BaselineStats)
	if err != nil {
		return fmt.Errorf("marshal baseline stats: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO adjustments (id, parameter, old_value, new_value, reason, baseline_stats, result, proposed_at, evaluate_after)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   old_value = excluded.old_value, new_value = excluded.new_value, reason = excluded.reason,
		   baseline_stats = excluded.baseline_stats, result = excluded.result,
		   proposed_at = excluded.proposed_at, evaluate_after = excluded.evaluate_after`,
		adj.ID, adj.Parameter, adj.OldValue, adj.NewValue, adj.Reason, string(baseline), adj.Result,
		adj.ProposedAt, adj.EvaluateAfter)
	if err != nil {
		return fmt.Errorf("save adjustment: %w", err)
	}
	return nil
}

// PendingAdjustments returns every Adjustment still awaiting an
// ANCHORED/REVERTED outcome (§4.11, §7 optimization safety).
func (s *Store) PendingAdjustments(ctx context.Context) ([]veritas.Adjustment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parameter, old_value, new_value, reason, baseline_stats, result, proposed_at, evaluate_after
		 FROM adjustments WHERE result = ?`, veritas.AdjustmentPending)
	if err != nil {
		return nil, fmt.Errorf("pending adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []veritas.Adjustment
	for rows.Next() {
		var adj veritas.Adjustment
		var baseline string
		if err := rows.Scan(&adj.ID, &adj.Parameter, &adj.OldValue, &adj.NewValue, &adj.Reason, &baseline,
			&adj.Result, &adj.ProposedAt, &adj.EvaluateAfter); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		if baseline != "" {
			if err := json.Unmarshal([]byte(baseline), &adj.BaselineStats); err != nil {
				return nil, fmt.Errorf("unmarshal baseline stats: %w", err)
			}
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}

// UpdateAdjustmentResult settles an Adjustment's final outcome: ANCHORED or
// REVERTED (safety rule: never left in an unknown state, §7).
func (s *Store) UpdateAdjustmentResult(ctx context.Context, id string, result veritas.AdjustmentResult) error {
	_, err := s.db.ExecContext(ctx, `UPDATE adjustments SET result = ? WHERE id = ?`, result, id)
	if err != nil {
		return fmt.Errorf("update adjustment result: %w", err)
	}
	return nil
}
