package veritas

import (
	"context"
	"sync"
)

// memOptimizerStore is a minimal in-memory OptimizerStore for tests.
type memOptimizerStore struct {
	mu          sync.Mutex
	metrics     []Metric
	adjustments map[string]Adjustment
}

func newMemOptimizerStore() *memOptimizerStore {
	return &memOptimizerStore{adjustments: map[string]Adjustment{}}
}

func (m *memOptimizerStore) Init(ctx context.Context) error { return nil }
func (m *memOptimizerStore) Close() error                   { return nil }

func (m *memOptimizerStore) RecordMetric(ctx context.Context, metric Metric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, metric)
	return nil
}

func (m *memOptimizerStore) RecentMetrics(ctx context.Context, name MetricName, since int64) ([]Metric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Metric
	for _, s := range m.metrics {
		if s.Name == name && s.Timestamp >= since {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memOptimizerStore) SaveAdjustment(ctx context.Context, adj Adjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adjustments[adj.ID] = adj
	return nil
}

func (m *memOptimizerStore) PendingAdjustments(ctx context.Context) ([]Adjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Adjustment
	for _, a := range m.adjustments {
		if a.Result == AdjustmentPending {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memOptimizerStore) UpdateAdjustmentResult(ctx context.Context, id string, result AdjustmentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	adj, ok := m.adjustments[id]
	if !ok {
		return nil
	}
	adj.Result = result
	m.adjustments[id] = adj
	return nil
}
