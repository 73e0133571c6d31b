package veritas

import (
	"log/slog"

	"github.com/nevindra/veritas/config"
)

// authorityWeights maps Authority to the fixed weight used in
// supportWeight (§4.7).
var authorityWeights = map[Authority]float64{
	AuthorityTest:       0.1,
	AuthorityShortTerm:  1.0,
	AuthorityMediumTerm: 2.0,
	AuthorityStable:     5.0,
	AuthorityLongTerm:   10.0,
}

// sourceWeights maps Source to the fixed weight used in supportWeight
// (§4.7).
var sourceWeights = map[Source]float64{
	SourceCLITest:           0.1,
	SourceChatUser:          1.0,
	SourceMemoryEnhancement: 1.5,
	SourceSystemDefault:     2.0,
	SourceIngestDoc:         3.0,
}

func authorityWeight(a Authority) float64 {
	if w, ok := authorityWeights[a]; ok {
		return w
	}
	return authorityWeights[AuthorityShortTerm]
}

func sourceWeight(s Source) float64 {
	if w, ok := sourceWeights[s]; ok {
		return w
	}
	return sourceWeights[SourceChatUser]
}

// temporalFactor implements temporalFactor(t) = max(0.1, 1 - ageDays/365)
// (§4.7).
func temporalFactor(timestamp, now int64) float64 {
	ageDays := float64(now-timestamp) / 86400.0
	if ageDays < 0 {
		ageDays = 0
	}
	f := 1.0 - ageDays/365.0
	if f < 0.1 {
		return 0.1
	}
	return f
}

// supportWeight is the single weighted-support computation shared by MIR's
// conflict resolution and MCA's confidence model (§4.7):
//
//	supportWeight(o) = authorityWeight(o.authority) × sourceWeight(o.source) × temporalFactor(o.timestamp)
func supportWeight(o Observation, now int64) float64 {
	return authorityWeight(o.Authority) * sourceWeight(o.Source) * temporalFactor(o.Timestamp, now)
}

// MCAOption configures a MCA.
type MCAOption func(*MCA)

// WithMCALogger sets a structured logger; unset means discard.
func WithMCALogger(l *slog.Logger) MCAOption {
	return func(m *MCA) { m.logger = l }
}

// WithMCAConfig overrides the default SelfHealingConfig (temporal decay
// window) and reinforcement rate.
func WithMCAConfig(cfg config.SelfHealingConfig, alpha float64) MCAOption {
	return func(m *MCA) {
		m.ageThresholdDays = cfg.TemporalDecayDays
		if alpha > 0 {
			m.alpha = alpha
		}
	}
}

// MCA is the Confidence Adjuster: per-use reinforcement, per-refutation
// penalty, and the periodic status-decay schedule (§4.8).
type MCA struct {
	alpha            float64
	minConfidence    float64
	ageThresholdDays int
	logger           *slog.Logger
}

// NewMCA constructs a MCA with spec defaults: alpha=0.05,
// ageThresholdDays=90 (§4.8).
func NewMCA(opts ...MCAOption) *MCA {
	m := &MCA{
		alpha:            0.05,
		minConfidence:    config.Default().CMC.MinConfidence,
		ageThresholdDays: config.Default().SelfHealing.TemporalDecayDays,
		logger:           nopLogger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Reinforce applies confidence ← min(1.0, confidence + α·(1−confidence))
// on successful use (§4.8).
func (m *MCA) Reinforce(confidence float64) float64 {
	next := confidence + m.alpha*(1-confidence)
	if next > 1.0 {
		return 1.0
	}
	return next
}

// Refute applies confidence ← confidence × 0.5 on refutation, returning the
// new confidence and whether it fell below minConfidence (in which case the
// caller should set status SUSPECT) (§4.8).
func (m *MCA) Refute(confidence float64) (float64, bool) {
	next := confidence * 0.5
	return next, next < m.minConfidence
}

// NextStatus computes the periodic decay transition for a Fact that has not
// been used in ageDays: STABLE → ACTIVE → SUSPECT → DEPRECATED, stepping
// once per call (§4.8). Facts accessed within ageThresholdDays are left
// unchanged.
func (m *MCA) NextStatus(status FactStatus, ageDays int) FactStatus {
	if ageDays < m.ageThresholdDays {
		return status
	}
	switch status {
	case FactStatusStable:
		return FactStatusActive
	case FactStatusActive:
		return FactStatusSuspect
	case FactStatusSuspect:
		return FactStatusDeprecated
	default:
		return status
	}
}
