package veritas

import (
	"context"
	"log/slog"
	"sync"
)

// SelfHealingOption configures a SelfHealing layer.
type SelfHealingOption func(*SelfHealing)

// WithSelfHealingLogger sets a structured logger; unset means discard.
func WithSelfHealingLogger(l *slog.Logger) SelfHealingOption {
	return func(s *SelfHealing) { s.logger = l }
}

// WithSelfHealingClock overrides the time source, for deterministic tests.
func WithSelfHealingClock(nowFunc func() int64) SelfHealingOption {
	return func(s *SelfHealing) { s.nowFunc = nowFunc }
}

// WithSelfHealingMetricSink wires a MetricSink that receives "facts_written"
// and "conflicts_handled" events as RegisterObservation commits (§4.7,
// §4.10, SPEC_FULL.md DOMAIN STACK).
func WithSelfHealingMetricSink(sink MetricSink) SelfHealingOption {
	return func(s *SelfHealing) { s.sink = sink }
}

// SelfHealing is the truth engine: it owns Observations and the
// aggregation function, and is the only writer of Facts. CMC does not know
// how weights are computed — that cyclic dependency is broken here (§9,
// §4.10).
type SelfHealing struct {
	observations ObservationStore
	facts        FactStore
	mir          *MIR
	mca          *MCA
	mce          *MCE
	logger       *slog.Logger
	nowFunc      func() int64
	sink         MetricSink

	keyLocks sync.Map // (domain,key) -> *sync.Mutex, per §5's single-writer-per-key rule
}

// NewSelfHealing constructs a SelfHealing layer.
func NewSelfHealing(observations ObservationStore, facts FactStore, mir *MIR, mca *MCA, mce *MCE, opts ...SelfHealingOption) *SelfHealing {
	s := &SelfHealing{
		observations: observations,
		facts:        facts,
		mir:          mir,
		mca:          mca,
		mce:          mce,
		logger:       nopLogger,
		nowFunc:      NowUnix,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SelfHealing) lockFor(domain, key string) *sync.Mutex {
	v, _ := s.keyLocks.LoadOrStore(domain+"\x00"+key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// RegisterObservation appends an Observation, then resolves the
// (domain,key) aggregation synchronously: MIR picks a winner by weighted
// support, MCA computes the winner's confidence, the new canonical Fact is
// committed, and MCE marks superseded Facts' dependents SUSPECT
// (§4.7, §4.10). Concurrent calls for the same (domain,key) are serialized
// (§5).
func (s *SelfHealing) RegisterObservation(ctx context.Context, domain, key, value string, source Source, authority Authority) error {
	mu := s.lockFor(domain, key)
	mu.Lock()
	defer mu.Unlock()

	obs := Observation{
		ID:        NewID(),
		Domain:    domain,
		Key:       key,
		Value:     value,
		Source:    source,
		Authority: authority,
		Timestamp: s.nowFunc(),
	}
	if err := s.observations.AppendObservation(ctx, obs); err != nil {
		return &BackendUnavailableError{Backend: "observation_store", Err: err}
	}

	all, err := s.observations.ObservationsFor(ctx, domain, key)
	if err != nil {
		return &BackendUnavailableError{Backend: "observation_store", Err: err}
	}

	res := s.mir.Resolve(domain, key, all)
	if res.Conflict != nil {
		if err := s.observations.SaveConflict(ctx, *res.Conflict); err != nil {
			s.logger.Warn("self-healing: persist conflict failed", "domain", domain, "key", key, "error", err)
		}
		if s.sink != nil {
			s.sink.ObserveEvent("conflicts_handled")
		}
		if res.Conflict.Resolution == ConflictResolutionUnresolvable {
			unresolvable := &ConflictUnresolvableError{Domain: domain, Key: key, Values: res.Conflict.CompetingValues}
			s.logger.Warn("self-healing: conflict unresolvable, keeping newest", "domain", domain, "key", key, "error", unresolvable)
		}
	}

	existing, err := s.facts.GetFactsByDomainKey(ctx, domain, key)
	if err != nil {
		return &BackendUnavailableError{Backend: "fact_store", Err: err}
	}

	var winningID string
	winningAuthority := maxAuthority(all, res.Winner)
	winningSupport := countSupporters(all, res.Winner)

	for _, f := range existing {
		if f.Value == res.Winner {
			winningID = f.ID
			continue
		}
		// Superseded: MIR found a higher-weight value for this
		// (domain,key). Unresolvable conflicts demote to SUSPECT and
		// keep the fact open for manual review; weighted resolutions
		// deprecate the loser outright (§4.7, §7 CONFLICT_UNRESOLVABLE).
		if res.Conflict != nil && res.Conflict.Resolution == ConflictResolutionUnresolvable {
			if err := s.facts.SetFactStatus(ctx, f.ID, FactStatusSuspect); err != nil {
				s.logger.Warn("self-healing: demote to suspect failed", "id", f.ID, "error", err)
			}
		} else {
			if err := s.facts.DeprecateFact(ctx, f.ID); err != nil {
				s.logger.Warn("self-healing: deprecate loser failed", "id", f.ID, "error", err)
			}
			if err := s.mce.PropagateInvalidation(ctx, f.ID); err != nil {
				s.logger.Warn("self-healing: propagate invalidation failed", "id", f.ID, "error", err)
			}
		}
	}

	confidence := winningConfidence(res.WinnerWeight)
	fact := Fact{
		ID:             winningID,
		Domain:         domain,
		Key:            key,
		Value:          res.Winner,
		Confidence:     confidence,
		Authority:      winningAuthority,
		Status:         FactStatusActive,
		Source:         source,
		CreatedAt:      s.nowFunc(),
		LastAccessedAt: s.nowFunc(),
		SupportCount:   winningSupport,
	}
	if fact.ID == "" {
		fact.ID = NewID()
	}
	if err := s.facts.UpsertFact(ctx, fact); err != nil {
		return &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	if s.sink != nil {
		s.sink.ObserveEvent("facts_written")
	}
	return nil
}

// winningConfidence derives an initial confidence from the winning value's
// total support weight. A single SHORT_TERM/CHAT_USER observation (weight
// 1.0) starts at 0.55; additional or higher-authority support saturates
// toward 1.0. The exact initial value is an open design choice; see
// DESIGN.md.
func winningConfidence(weight float64) float64 {
	c := 0.5 + weight/20.0
	if c > 1.0 {
		return 1.0
	}
	return c
}

func maxAuthority(observations []Observation, value string) Authority {
	best := AuthorityTest
	bestWeight := -1.0
	for _, o := range observations {
		if o.Value != value {
			continue
		}
		if w := authorityWeight(o.Authority); w > bestWeight {
			bestWeight = w
			best = o.Authority
		}
	}
	return best
}

func countSupporters(observations []Observation, value string) int {
	n := 0
	for _, o := range observations {
		if o.Value == value {
			n++
		}
	}
	return n
}

// DetectConflicts enumerates Conflicts left open for manual review —
// resolution ties where no value has a clear weighted majority — optionally
// restricted to one domain (domain == "" returns every domain). Resolution
// itself happens synchronously inside RegisterObservation; this is purely
// an enumeration of what it left unresolved (§4.10, §7 CONFLICT_UNRESOLVABLE).
func (s *SelfHealing) DetectConflicts(ctx context.Context, domain string) ([]Conflict, error) {
	conflicts, err := s.observations.OpenConflicts(ctx, domain)
	if err != nil {
		return nil, &BackendUnavailableError{Backend: "observation_store", Err: err}
	}
	return conflicts, nil
}

// GetCanonicalTruth returns the current ACTIVE/STABLE value for
// (domain,key), or ok=false if none exists (§4.10).
func (s *SelfHealing) GetCanonicalTruth(ctx context.Context, domain, key string) (string, bool, error) {
	f, ok, err := s.facts.GetFact(ctx, domain, key)
	if err != nil {
		return "", false, &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	if !ok {
		return "", false, nil
	}
	return f.Value, true, nil
}

// ApplyTemporalDecay slides every Fact's status per MCA's schedule and
// propagates SUSPECT to dependents for newly-deprecated facts (§4.10,
// §4.8).
func (s *SelfHealing) ApplyTemporalDecay(ctx context.Context) error {
	facts, err := s.facts.AllFacts(ctx)
	if err != nil {
		return &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	now := s.nowFunc()
	for _, f := range facts {
		ageDays := int((now - f.LastAccessedAt) / 86400)
		next := s.mca.NextStatus(f.Status, ageDays)
		if next == f.Status {
			continue
		}
		if err := s.facts.SetFactStatus(ctx, f.ID, next); err != nil {
			s.logger.Warn("self-healing: decay status update failed", "id", f.ID, "error", err)
			continue
		}
		if next == FactStatusDeprecated {
			if err := s.mce.PropagateInvalidation(ctx, f.ID); err != nil {
				s.logger.Warn("self-healing: propagate decay invalidation failed", "id", f.ID, "error", err)
			}
		}
	}
	return nil
}

var _ ObservationSink = (*SelfHealing)(nil)
