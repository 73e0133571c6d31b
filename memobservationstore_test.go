package veritas

import (
	"context"
	"sync"
)

// memObservationStore is a minimal in-memory ObservationStore for tests.
type memObservationStore struct {
	mu        sync.Mutex
	obs       []Observation
	conflicts map[string]Conflict // (domain,key) -> latest Conflict
}

func newMemObservationStore() *memObservationStore {
	return &memObservationStore{conflicts: make(map[string]Conflict)}
}

func (m *memObservationStore) Init(ctx context.Context) error { return nil }
func (m *memObservationStore) Close() error                   { return nil }

func (m *memObservationStore) AppendObservation(ctx context.Context, obs Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = append(m.obs, obs)
	return nil
}

func (m *memObservationStore) ObservationsFor(ctx context.Context, domain, key string) ([]Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Observation
	for _, o := range m.obs {
		if o.Domain == domain && o.Key == key {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memObservationStore) SaveConflict(ctx context.Context, c Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[c.Domain+"\x00"+c.Key] = c
	return nil
}

func (m *memObservationStore) OpenConflicts(ctx context.Context, domain string) ([]Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Conflict
	for _, c := range m.conflicts {
		if !c.Open {
			continue
		}
		if domain != "" && c.Domain != domain {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
