package observer

import (
	"context"

	veritas "github.com/nevindra/veritas"
)

// otelMetricSink implements veritas.MetricSink over a set of OTEL
// instruments, so Self-Optimizing, Self-Healing, AME, and the Router can
// report live samples and events without importing OTEL themselves.
type otelMetricSink struct {
	inst *Instruments
}

// NewMetricSink returns a veritas.MetricSink backed by inst. Call
// observer.Init() first to obtain inst; passing the result straight through
// is the common case.
func NewMetricSink(inst *Instruments) veritas.MetricSink {
	return &otelMetricSink{inst: inst}
}

// ObserveMetric records one sample against the matching OTEL histogram.
// Self-Optimizing's five tracked MetricName values map to the five rate
// histograms; Router/AME timing keys map to the duration histograms.
// Unrecognized names are dropped.
func (s *otelMetricSink) ObserveMetric(name string, value float64) {
	ctx := context.Background()
	switch name {
	case string(veritas.MetricOverrideRate):
		s.inst.OverrideRate.Record(ctx, value)
	case string(veritas.MetricConflictRate):
		s.inst.ConflictRate.Record(ctx, value)
	case string(veritas.MetricAccuracy):
		s.inst.Accuracy.Record(ctx, value)
	case string(veritas.MetricDomainQuality):
		s.inst.DomainQuality.Record(ctx, value)
	case string(veritas.MetricMemoryHitRate):
		s.inst.MemoryHitRate.Record(ctx, value)
	case "turn_total_ms":
		s.inst.TurnDuration.Record(ctx, value)
	case "cmc_query_ms", "smm_query_ms", "dde_classify_ms":
		s.inst.RetrievalLatency.Record(ctx, value)
	case "ame_enforce_ms":
		s.inst.EnforceLatency.Record(ctx, value)
	}
}

// ObserveEvent increments the matching OTEL counter. Unrecognized names are
// dropped.
func (s *otelMetricSink) ObserveEvent(name string) {
	ctx := context.Background()
	switch name {
	case "facts_written":
		s.inst.FactsWritten.Add(ctx, 1)
	case "conflicts_handled":
		s.inst.ConflictsHandled.Add(ctx, 1)
	case "overrides":
		s.inst.Overrides.Add(ctx, 1)
	case "adjustments_proposed":
		s.inst.AdjustmentsProposed.Add(ctx, 1)
	case "adjustments_anchored":
		s.inst.AdjustmentsAnchored.Add(ctx, 1)
	case "adjustments_reverted":
		s.inst.AdjustmentsReverted.Add(ctx, 1)
	}
}

var _ veritas.MetricSink = (*otelMetricSink)(nil)
