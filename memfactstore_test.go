package veritas

import (
	"context"
	"sync"
)

// memFactStore is a minimal in-memory FactStore used across this package's
// tests, so each layer can be unit-tested without a real database backend.
type memFactStore struct {
	mu            sync.Mutex
	facts         map[string]Fact
	usage         map[string]int
	knownKeys     map[string][]string
	knownDomains  []string
	dynamicDomain map[string]bool
	dependents    map[string][]string
}

func newMemFactStore() *memFactStore {
	return &memFactStore{
		facts:         map[string]Fact{},
		usage:         map[string]int{},
		knownKeys:     map[string][]string{},
		dynamicDomain: map[string]bool{},
		dependents:    map[string][]string{},
	}
}

func (m *memFactStore) Init(ctx context.Context) error { return nil }
func (m *memFactStore) Close() error                    { return nil }

func (m *memFactStore) UpsertFact(ctx context.Context, fact Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[fact.ID] = fact
	return nil
}

func (m *memFactStore) GetFact(ctx context.Context, domain, key string) (Fact, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.facts {
		if f.Domain == domain && f.Key == key && (f.Status == FactStatusActive || f.Status == FactStatusStable) {
			return f, true, nil
		}
	}
	return Fact{}, false, nil
}

func (m *memFactStore) GetFactsByDomainKey(ctx context.Context, domain, key string) ([]Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Fact
	for _, f := range m.facts {
		if f.Domain == domain && f.Key == key && f.Status != FactStatusDeprecated {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memFactStore) SearchFacts(ctx context.Context, embedding []float32, domains []string, topK int) ([]ScoredFact, error) {
	return nil, nil
}

func (m *memFactStore) DeprecateFact(ctx context.Context, id string) error {
	return m.SetFactStatus(ctx, id, FactStatusDeprecated)
}

func (m *memFactStore) SetFactStatus(ctx context.Context, id string, status FactStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.facts[id]; ok {
		f.Status = status
		m.facts[id] = f
	}
	return nil
}

func (m *memFactStore) CountFacts(ctx context.Context, domain string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.facts {
		if f.Status == FactStatusDeprecated {
			continue
		}
		if domain == "" || f.Domain == domain {
			n++
		}
	}
	return n, nil
}

func (m *memFactStore) AllFacts(ctx context.Context) ([]Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Fact, 0, len(m.facts))
	for _, f := range m.facts {
		if f.Status != FactStatusDeprecated {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memFactStore) IncrementUsage(ctx context.Context, domain, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := domain + "\x00" + key
	m.usage[k]++
	return m.usage[k], nil
}

func (m *memFactStore) KnownKeys(ctx context.Context, domain string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.knownKeys[domain]...), nil
}

func (m *memFactStore) KnownDomains(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.knownDomains...), nil
}

func (m *memFactStore) LearnKey(ctx context.Context, domain, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.knownKeys[domain] {
		if k == key {
			return nil
		}
	}
	m.knownKeys[domain] = append(m.knownKeys[domain], key)
	return nil
}

func (m *memFactStore) LearnDomain(ctx context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dynamicDomain[domain] {
		m.dynamicDomain[domain] = true
		m.knownDomains = append(m.knownDomains, domain)
	}
	return nil
}

func (m *memFactStore) CountDynamicDomains(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dynamicDomain), nil
}

func (m *memFactStore) AddDependency(ctx context.Context, dependent, dependsOn string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dependents[dependsOn] = append(m.dependents[dependsOn], dependent)
	return nil
}

func (m *memFactStore) Dependents(ctx context.Context, factID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dependents[factID]...), nil
}
