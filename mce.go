package veritas

import (
	"context"
	"log/slog"
)

// MCEOption configures a MCE.
type MCEOption func(*MCE)

// WithMCELogger sets a structured logger; unset means discard.
func WithMCELogger(l *slog.Logger) MCEOption {
	return func(m *MCE) { m.logger = l }
}

// MCE is the Causality Engine: maintains a directed dependency graph among
// Facts and, on deprecation, walks dependents marking them SUSPECT rather
// than DEPRECATED, since they may be independently reinforced (§4.9).
type MCE struct {
	store  FactStore
	logger *slog.Logger
}

// NewMCE constructs a MCE over a FactStore.
func NewMCE(store FactStore, opts ...MCEOption) *MCE {
	m := &MCE{store: store, logger: nopLogger}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AddDependency records that dependent depends on dependsOn.
func (m *MCE) AddDependency(ctx context.Context, dependent, dependsOn string) error {
	if err := m.store.AddDependency(ctx, dependent, dependsOn); err != nil {
		return &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	return nil
}

// PropagateInvalidation walks every Fact that depends on factID and sets
// it SUSPECT, recording factID as the cause (§4.9). Called after MIR
// deprecates the losing side of a conflict, and after MCA's periodic decay
// deprecates a Fact.
func (m *MCE) PropagateInvalidation(ctx context.Context, factID string) error {
	dependents, err := m.store.Dependents(ctx, factID)
	if err != nil {
		return &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	for _, depID := range dependents {
		if err := m.store.SetFactStatus(ctx, depID, FactStatusSuspect); err != nil {
			m.logger.Warn("mce: failed to mark dependent suspect", "dependent", depID, "cause", factID, "error", err)
			continue
		}
		m.logger.Info("mce: marked dependent suspect", "dependent", depID, "cause", factID)
	}
	return nil
}
