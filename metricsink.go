package veritas

// MetricSink receives live metric samples and discrete pipeline events as
// they happen, so an external observability backend (the observer package's
// OTEL instruments) can record them without Self-Optimizing, Self-Healing,
// AME, or the Router depending on that backend directly (§9: named
// services with defined lifecycles, not global mutable state). Nil is
// safe everywhere it's consulted — observability is opt-in.
type MetricSink interface {
	// ObserveMetric records one sample for a named metric. name is either
	// one of the five Self-Optimizing MetricName constants (as recorded
	// via RecordMetric) or a Router/AME timing key such as
	// "turn_total_ms".
	ObserveMetric(name string, value float64)
	// ObserveEvent increments a named discrete counter, e.g.
	// "facts_written", "conflicts_handled", "overrides",
	// "adjustments_proposed", "adjustments_anchored", "adjustments_reverted".
	ObserveEvent(name string)
}
