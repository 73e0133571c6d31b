package veritas

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/nevindra/veritas/config"
)

// MLCOption configures a MLC.
type MLCOption func(*MLC)

// WithMLCLogger sets a structured logger; unset means discard.
func WithMLCLogger(l *slog.Logger) MLCOption {
	return func(m *MLC) { m.logger = l }
}

// WithMLCConfig overrides the default MLCConfig.
func WithMLCConfig(cfg config.MLCConfig) MLCOption {
	return func(m *MLC) { m.cfg = cfg }
}

// WithMLCGraph wires an optional GMM so a universal pattern can be
// materialized as a graph node (§4.6: a symbolic side effect, not required
// for operation).
func WithMLCGraph(gmm *GMM) MLCOption {
	return func(m *MLC) { m.gmm = gmm }
}

// domainStats is one domain's success/total/score accumulator for a
// normalized pattern.
type domainStats struct {
	successes int
	total     int
	scoreSum  float64
}

// MLC is the Meta-Learning Cortex: observes (question, domain, score,
// patterns, wasHelpful) tuples and discovers which patterns generalize
// across domains (§4.6).
type MLC struct {
	store  PatternStore
	gmm    *GMM
	cfg    config.MLCConfig
	logger *slog.Logger

	mu       sync.Mutex
	byDomain map[string]map[string]*domainStats // domain -> normalized pattern -> stats
	cross    map[string]*CrossDomainPattern      // normalized pattern -> cross-domain record
}

// NewMLC constructs a MLC. store may be nil, in which case nothing is
// persisted. MLC only writes patterns to store; it does not read earlier
// patterns back, so a new MLC starts with no learned state.
func NewMLC(store PatternStore, opts ...MLCOption) *MLC {
	m := &MLC{
		store:    store,
		cfg:      config.Default().MLC,
		logger:   nopLogger,
		byDomain: make(map[string]map[string]*domainStats),
		cross:    make(map[string]*CrossDomainPattern),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Observe records one PatternObservation, updating per-domain statistics
// and re-checking cross-domain universality (§4.6).
func (m *MLC) Observe(ctx context.Context, obs PatternObservation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pattern := range obs.Patterns {
		norm := normalizePattern(pattern)
		if m.byDomain[obs.Domain] == nil {
			m.byDomain[obs.Domain] = make(map[string]*domainStats)
		}
		stats, ok := m.byDomain[obs.Domain][norm]
		if !ok {
			stats = &domainStats{}
			m.byDomain[obs.Domain][norm] = stats
		}
		stats.total++
		if obs.WasHelpful {
			stats.successes++
		}
		stats.scoreSum += obs.Score

		m.recheckCrossDomain(ctx, norm)
	}
}

// ThresholdDelta returns the per-domain activation bonus/penalty for
// pattern, computed from its success rate in domain (§4.6): ≥0.8 → -1.5,
// ≥0.6 → -0.5, ≤0.3 → +1.0, else 0.
func (m *MLC) ThresholdDelta(domain, pattern string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats, ok := m.byDomain[domain][normalizePattern(pattern)]
	if !ok || stats.total == 0 {
		return 0
	}
	rate := float64(stats.successes) / float64(stats.total)
	switch {
	case rate >= 0.8:
		return -1.5
	case rate >= 0.6:
		return -0.5
	case rate <= 0.3:
		return 1.0
	default:
		return 0
	}
}

// ActivationBonus returns the fixed bonus applied when question contains a
// universal pattern, whatever the domain and whether or not it has local
// history (§4.6).
func (m *MLC) ActivationBonus(question string) float64 {
	const universalBonus = 0.15
	m.mu.Lock()
	defer m.mu.Unlock()
	norm := normalizePattern(question)
	for pattern, cp := range m.cross {
		if cp.Universal && strings.Contains(norm, pattern) {
			return universalBonus
		}
	}
	return 0
}

// recheckCrossDomain marks norm universal once it has positive observations
// in at least crossDomainThreshold distinct domains, with confidence equal
// to the minimum success rate across those domains (§4.6). Caller holds m.mu.
func (m *MLC) recheckCrossDomain(ctx context.Context, norm string) {
	var domains []string
	minRate := 1.0
	for domain, patterns := range m.byDomain {
		stats, ok := patterns[norm]
		if !ok || stats.successes == 0 {
			continue
		}
		domains = append(domains, domain)
		rate := float64(stats.successes) / float64(stats.total)
		if rate < minRate {
			minRate = rate
		}
	}

	if len(domains) < m.cfg.CrossDomainThreshold {
		return
	}

	cp := CrossDomainPattern{Pattern: norm, Domains: domains, Confidence: minRate, Universal: true}
	m.cross[norm] = &cp

	if m.store != nil {
		if err := m.store.SaveCrossDomainPattern(ctx, cp); err != nil {
			m.logger.Warn("mlc: persist cross-domain pattern failed", "pattern", norm, "error", err)
		}
	}
	if m.gmm != nil {
		_ = m.gmm.StoreConcept(ctx, Concept{Name: "pattern:" + norm})
		for _, d := range domains {
			_ = m.gmm.LinkConcepts(ctx, "pattern:"+norm, d, RelationSupports, cp.Confidence)
		}
	}
}

// Collapse merges normalized duplicate patterns, keeping the
// highest-confidence representative and folding statistics (§4.6 Pattern
// collapse). Run on threshold, per the background-loop design (§2).
func (m *MLC) Collapse(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	collapsed := 0
	for domain, patterns := range m.byDomain {
		merged := make(map[string]*domainStats)
		for pattern, stats := range patterns {
			canon := normalizePattern(pattern)
			if existing, ok := merged[canon]; ok {
				existing.successes += stats.successes
				existing.total += stats.total
				existing.scoreSum += stats.scoreSum
				collapsed++
			} else {
				merged[canon] = stats
			}
		}
		m.byDomain[domain] = merged
	}

	if m.store != nil {
		for domain, patterns := range m.byDomain {
			for pattern, stats := range patterns {
				avg := 0.0
				if stats.total > 0 {
					avg = stats.scoreSum / float64(stats.total)
				}
				lp := LearnedPattern{
					Pattern:      pattern,
					Domain:       domain,
					Successes:    stats.successes,
					Total:        stats.total,
					AverageScore: avg,
				}
				if err := m.store.SavePattern(ctx, lp); err != nil {
					m.logger.Warn("mlc: persist pattern failed", "pattern", pattern, "domain", domain, "error", err)
				}
			}
		}
	}
	return collapsed
}

var nonAlphaNum = regexp.MustCompile(`[^a-z0-9 ]+`)

// normalizePattern lowercases and strips punctuation — a stem-like
// normalization sufficient to dedupe surface variants of the same pattern
// (§4.6).
func normalizePattern(pattern string) string {
	lower := strings.ToLower(strings.TrimSpace(pattern))
	stripped := nonAlphaNum.ReplaceAllString(lower, "")
	return strings.Join(strings.Fields(stripped), " ")
}
