package veritas

import (
	"log/slog"
	"sort"
)

// MIROption configures a MIR.
type MIROption func(*MIR)

// WithMIRLogger sets a structured logger; unset means discard.
func WithMIRLogger(l *slog.Logger) MIROption {
	return func(m *MIR) { m.logger = l }
}

// MIR is the Integrity Regulator: on every fact write, finds competing
// Facts for the same (domain,key), resolves by weighted aggregation over
// supporting Observations, and marks winner/losers (§4.7).
type MIR struct {
	logger  *slog.Logger
	nowFunc func() int64
}

// NewMIR constructs a MIR.
func NewMIR(opts ...MIROption) *MIR {
	m := &MIR{logger: nopLogger, nowFunc: NowUnix}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Resolution is MIR's verdict for one (domain,key): the winning value, its
// total support weight, and how the conflict (if any) was resolved.
type Resolution struct {
	Domain         string
	Key            string
	Winner         string
	WinnerWeight   float64
	DistinctValues int
	Resolution     ConflictResolution
	Conflict       *Conflict
}

// Resolve groups observations by value and picks the winner by supportWeight
// (§4.7), tie-broken by more distinct supporters then by newest observation
// (§4.7 Tie-break order). CLI_TEST observations add weight only when no
// observation from another source exists for the key, so any number of them
// loses to a single CHAT_USER-or-higher observation (§3 invariant 6). A
// Conflict is constructed whenever ≥2 distinct values are present (§3).
func (m *MIR) Resolve(domain, key string, observations []Observation) Resolution {
	now := m.nowFunc()

	cliTestOnly := true
	for _, o := range observations {
		if o.Source != SourceCLITest {
			cliTestOnly = false
			break
		}
	}

	type valueStats struct {
		value         string
		weight        float64
		supporters    int
		newest        int64
	}
	byValue := make(map[string]*valueStats)
	var order []string

	for _, o := range observations {
		vs, ok := byValue[o.Value]
		if !ok {
			vs = &valueStats{value: o.Value}
			byValue[o.Value] = vs
			order = append(order, o.Value)
		}
		if cliTestOnly || o.Source != SourceCLITest {
			vs.weight += supportWeight(o, now)
		}
		vs.supporters++
		if o.Timestamp > vs.newest {
			vs.newest = o.Timestamp
		}
	}

	sort.Slice(order, func(i, j int) bool {
		a, b := byValue[order[i]], byValue[order[j]]
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		if a.supporters != b.supporters {
			return a.supporters > b.supporters
		}
		return a.newest > b.newest
	})

	res := Resolution{Domain: domain, Key: key, DistinctValues: len(order)}
	if len(order) == 0 {
		return res
	}

	top := byValue[order[0]]
	res.Winner = top.value
	res.WinnerWeight = top.weight

	if len(order) == 1 {
		res.Resolution = ConflictResolutionWeighted
		return res
	}

	conflict := &Conflict{
		ID:              NewID(),
		Domain:          domain,
		Key:             key,
		CompetingValues: append([]string(nil), order...),
		ResolvedAt:      now,
		WinningValue:    top.value,
	}

	second := byValue[order[1]]
	if top.weight == second.weight && top.supporters == second.supporters {
		conflict.Resolution = ConflictResolutionUnresolvable
		conflict.Open = true
		m.logger.Warn("mir: conflict unresolvable, tied weights", "domain", domain, "key", key, "values", order)
	} else {
		conflict.Resolution = ConflictResolutionWeighted
	}
	res.Resolution = conflict.Resolution
	res.Conflict = conflict
	return res
}
