package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for memory-pipeline observability spans and metrics.
var (
	AttrDomain       = attribute.Key("veritas.domain")
	AttrDomainSource = attribute.Key("veritas.domain.source") // core | dynamic

	AttrFactKey   = attribute.Key("veritas.fact.key")
	AttrFactValue = attribute.Key("veritas.fact.value")

	AttrConflictReason     = attribute.Key("veritas.conflict.reason")
	AttrConflictResolution = attribute.Key("veritas.conflict.resolution")

	AttrOverrideApplied = attribute.Key("veritas.ame.overridden")
	AttrStrictnessLevel = attribute.Key("veritas.ame.strictness")

	AttrAdjustmentParameter = attribute.Key("veritas.optimizer.parameter")
	AttrAdjustmentResult    = attribute.Key("veritas.optimizer.result")

	AttrSessionID = attribute.Key("veritas.session_id")
)
