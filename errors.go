package veritas

import "fmt"

// SchemaViolationError is returned when CMC rejects a fact: a forbidden
// pattern, an unknown key still below its learning threshold, or a value
// past maxFactLength.
type SchemaViolationError struct {
	Domain string
	Key    string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation for %s.%s: %s", e.Domain, e.Key, e.Reason)
}

// LimitExceededError is returned when a hard cap (maxTotalFacts,
// maxFactsPerDomain, maxDynamicDomains, ...) is reached.
type LimitExceededError struct {
	Limit   string
	Current int
	Max     int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("limit exceeded: %s is %d, max %d", e.Limit, e.Current, e.Max)
}

// BackendUnavailableError wraps a failure from an external collaborator:
// vector store, graph store, embedder, or LLM. Layers other than AME treat
// it as a signal to fall back, never to abort the turn.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend unavailable: %s: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// ContradictionCheckFailedError is returned when AME's stage B (LLM probe)
// could not complete; callers fall back to the stage A structural result.
type ContradictionCheckFailedError struct {
	Err error
}

func (e *ContradictionCheckFailedError) Error() string {
	return fmt.Sprintf("contradiction check failed, falling back to structural check: %v", e.Err)
}

func (e *ContradictionCheckFailedError) Unwrap() error { return e.Err }

// ConflictUnresolvableError is returned when MIR finds identical support
// weights across competing values. The newest value wins provisionally and
// the Conflict stays open for manual review.
type ConflictUnresolvableError struct {
	Domain string
	Key    string
	Values []string
}

func (e *ConflictUnresolvableError) Error() string {
	return fmt.Sprintf("conflict unresolvable for %s.%s: tied values %v", e.Domain, e.Key, e.Values)
}

// OptimizationInconclusiveError is returned when an Adjustment's post
// metrics are within the no-op band of its baseline; the Adjustment stays
// PENDING for another evaluation cycle.
type OptimizationInconclusiveError struct {
	Parameter string
	Delta     float64
}

func (e *OptimizationInconclusiveError) Error() string {
	return fmt.Sprintf("optimization inconclusive for %s: delta %.4f within no-op band", e.Parameter, e.Delta)
}
