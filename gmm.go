package veritas

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// GMM is the thin Graph Memory interface over an external GraphStore
// (§4.3). GMM failure never blocks a turn: callers receive
// BackendUnavailableError and proceed without graph context (§9 Open
// Questions: the graph store is treated as optional).
type GMM struct {
	store  GraphStore
	logger *slog.Logger
}

// GMMOption configures a GMM.
type GMMOption func(*GMM)

// WithGMMLogger sets a structured logger; unset means discard.
func WithGMMLogger(l *slog.Logger) GMMOption {
	return func(g *GMM) { g.logger = l }
}

// NewGMM constructs a GMM over a GraphStore. store may be nil, in which
// case every operation returns BackendUnavailableError immediately.
func NewGMM(store GraphStore, opts ...GMMOption) *GMM {
	g := &GMM{store: store, logger: nopLogger}
	for _, o := range opts {
		o(g)
	}
	return g
}

// StoreConcept adds or updates a Concept node.
func (g *GMM) StoreConcept(ctx context.Context, c Concept) error {
	if g.store == nil {
		return &BackendUnavailableError{Backend: "graph_store", Err: fmt.Errorf("no graph store configured")}
	}
	if err := g.store.StoreConcept(ctx, c); err != nil {
		g.logger.Warn("gmm: store concept failed", "name", c.Name, "error", err)
		return &BackendUnavailableError{Backend: "graph_store", Err: err}
	}
	return nil
}

// LinkConcepts adds a weighted typed edge between two Concepts.
func (g *GMM) LinkConcepts(ctx context.Context, from, to string, relType RelationType, weight float64) error {
	if g.store == nil {
		return &BackendUnavailableError{Backend: "graph_store", Err: fmt.Errorf("no graph store configured")}
	}
	if err := g.store.LinkConcepts(ctx, from, to, relType, weight); err != nil {
		g.logger.Warn("gmm: link concepts failed", "from", from, "to", to, "error", err)
		return &BackendUnavailableError{Backend: "graph_store", Err: err}
	}
	return nil
}

// FindRelated returns concepts related to name up to maxDepth hops. On
// failure, returns an empty slice and a BackendUnavailableError — callers
// treat this the same as "no related concepts" (§4.3).
func (g *GMM) FindRelated(ctx context.Context, name string, maxDepth int) ([]RelatedConcept, error) {
	if g.store == nil {
		return nil, &BackendUnavailableError{Backend: "graph_store", Err: fmt.Errorf("no graph store configured")}
	}
	related, err := g.store.FindRelated(ctx, name, maxDepth)
	if err != nil {
		g.logger.Warn("gmm: find related failed", "name", name, "error", err)
		return nil, &BackendUnavailableError{Backend: "graph_store", Err: err}
	}
	return related, nil
}

// RunQuery executes a structured query against the graph store.
func (g *GMM) RunQuery(ctx context.Context, structuredQuery string) ([]map[string]any, error) {
	if g.store == nil {
		return nil, &BackendUnavailableError{Backend: "graph_store", Err: fmt.Errorf("no graph store configured")}
	}
	rows, err := g.store.RunQuery(ctx, structuredQuery)
	if err != nil {
		g.logger.Warn("gmm: run query failed", "error", err)
		return nil, &BackendUnavailableError{Backend: "graph_store", Err: err}
	}
	return rows, nil
}

// InMemoryGraphStore is a default GraphStore implementation for tests and
// small deployments that don't want to stand up an external graph
// database. It is safe for concurrent use.
type InMemoryGraphStore struct {
	mu        sync.RWMutex
	concepts  map[string]Concept
	relations []Relation
}

// NewInMemoryGraphStore constructs an empty InMemoryGraphStore.
func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{concepts: make(map[string]Concept)}
}

func (m *InMemoryGraphStore) StoreConcept(_ context.Context, c Concept) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concepts[c.Name] = c
	return nil
}

func (m *InMemoryGraphStore) LinkConcepts(_ context.Context, from, to string, relType RelationType, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relations = append(m.relations, Relation{From: from, To: to, Type: relType, Weight: weight})
	return nil
}

func (m *InMemoryGraphStore) FindRelated(_ context.Context, name string, maxDepth int) ([]RelatedConcept, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	visited := map[string]bool{name: true}
	frontier := []string{name}
	var out []RelatedConcept

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, node := range frontier {
			for _, r := range m.relations {
				if r.From == node && !visited[r.To] {
					visited[r.To] = true
					out = append(out, RelatedConcept{Name: r.To, Type: r.Type, Weight: r.Weight})
					next = append(next, r.To)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func (m *InMemoryGraphStore) RunQuery(_ context.Context, _ string) ([]map[string]any, error) {
	return nil, fmt.Errorf("in-memory graph store does not support structured queries")
}

var _ GraphStore = (*InMemoryGraphStore)(nil)
