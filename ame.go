package veritas

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ObservationSink receives user assertions extracted during enforcement, so
// AME never has to know how Self-Healing aggregates them (§9: cyclic
// dependencies broken by making Self-Healing the owner of observations).
type ObservationSink interface {
	RegisterObservation(ctx context.Context, domain, key, value string, source Source, authority Authority) error
}

// AMEOption configures an AME.
type AMEOption func(*AME)

// WithAMELogger sets a structured logger; unset means discard.
func WithAMELogger(l *slog.Logger) AMEOption {
	return func(a *AME) { a.logger = l }
}

// WithAMETracer attaches a Tracer for spans around the contradiction check.
// Nil is safe and skips span creation (§9 Supplemented Features).
func WithAMETracer(t Tracer) AMEOption {
	return func(a *AME) { a.tracer = t }
}

// WithDomainStrictness sets the per-domain override strictness multiplier
// in [0,1]. Identity/family default to 1.0: any contradiction overrides.
// Exploratory domains default lower: contradictions only override above a
// confidence threshold (§4.5).
func WithDomainStrictness(strictness map[string]float64) AMEOption {
	return func(a *AME) {
		for k, v := range strictness {
			a.strictness[k] = v
		}
	}
}

// WithObservationSink wires the sink that receives extracted user
// assertions (§4.5 point 4).
func WithObservationSink(sink ObservationSink) AMEOption {
	return func(a *AME) { a.sink = sink }
}

// WithAMEMetricSink wires a MetricSink that receives an "overrides" event
// each time Enforce decides the draft reply must be replaced (§4.5 step 3,
// SPEC_FULL.md DOMAIN STACK: AME decision counts feed the OTEL observer).
func WithAMEMetricSink(sink MetricSink) AMEOption {
	return func(a *AME) { a.metricSink = sink }
}

// AME is the Adaptive Memory Enforcer: the decisive per-turn component that
// decides whether the model's draft reply stands or is overridden by
// canonical memory (§4.5).
type AME struct {
	provider   Provider
	strictness map[string]float64
	sink       ObservationSink
	metricSink MetricSink
	logger     *slog.Logger
	tracer     Tracer
}

// NewAME constructs an AME. provider may be nil, in which case the
// contradiction check never advances past stage A.
func NewAME(provider Provider, opts ...AMEOption) *AME {
	a := &AME{
		provider: provider,
		strictness: map[string]float64{
			"identity": 1.0,
			"family":   1.0,
		},
		logger: nopLogger,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

var factualQuestionPattern = regexp.MustCompile(`(?i)^\s*(who|what|where|when|which)\b.*\?\s*$`)
var assertionPattern = regexp.MustCompile(`(?i)\b(is|are|was|were)\b`)
var smallTalkPattern = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|thanks|thank you|bye|goodbye|how are you)\b`)

// ShouldCheckFacts gates the expensive contradiction check: true for
// identity/factual-claim shapes, false for pure small talk (§4.5 step 1).
func ShouldCheckFacts(userMessage, assistantDraft string) bool {
	msg := strings.TrimSpace(userMessage)
	if smallTalkPattern.MatchString(msg) {
		return false
	}
	if factualQuestionPattern.MatchString(msg) {
		return true
	}
	if assertionPattern.MatchString(msg) {
		return true
	}
	return false
}

// EnforceResult is AME's decision for one turn.
type EnforceResult struct {
	FinalReply     string
	WasOverridden  bool
	ConflictReason string
}

// Enforce runs the full AME pipeline: the gate, the two-stage contradiction
// check against every retrieved Fact, and the override/trust-LLM decision
// (§4.5). It always returns a usable result; on a provider failure it falls
// back to the stage A verdict rather than erroring the turn, except when
// stage A itself cannot be evaluated, in which case the original draft
// passes through.
func (a *AME) Enforce(ctx context.Context, userMessage, assistantDraft string, domain string, facts []ScoredFact) EnforceResult {
	if a.sink != nil {
		a.extractAndRegister(ctx, userMessage, domain)
	}

	if !ShouldCheckFacts(userMessage, assistantDraft) {
		return EnforceResult{FinalReply: assistantDraft, WasOverridden: false}
	}

	var span Span
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, "ame.contradiction_check", StringAttr("domain", domain))
		defer span.End()
	}

	strictness := a.strictnessFor(domain)
	var contradicting []Fact
	for _, sf := range facts {
		contradicts, _, err := a.contradicts(ctx, assistantDraft, sf.Fact)
		if err != nil && span != nil {
			span.Event("contradiction_check_fallback", StringAttr("fact_id", sf.Fact.ID))
		}
		if !contradicts {
			continue
		}
		if strictness < 1.0 && sf.Fact.Confidence < (1.0-strictness) {
			continue
		}
		contradicting = append(contradicting, sf.Fact)
	}

	if len(contradicting) == 0 {
		return EnforceResult{FinalReply: assistantDraft, WasOverridden: false}
	}

	// When a contradicting fact belongs to a numbered-key group (child_1,
	// child_2, ...), pull in every sibling so the synthesized reply lists
	// the whole group rather than just the members the draft got wrong
	// (§4.5 step 3: "your children are A, B, and C", not just the ones
	// missing from the draft).
	contradicting = expandNumberedSiblings(contradicting, facts)

	reply := synthesizeOverride(contradicting)
	if span != nil {
		span.SetAttr(BoolAttr("overridden", true), IntAttr("contradicting_facts", len(contradicting)))
	}
	if a.metricSink != nil {
		a.metricSink.ObserveEvent("overrides")
	}
	return EnforceResult{
		FinalReply:     reply,
		WasOverridden:  true,
		ConflictReason: fmt.Sprintf("draft contradicted %d canonical fact(s)", len(contradicting)),
	}
}

func (a *AME) strictnessFor(domain string) float64 {
	if s, ok := a.strictness[domain]; ok {
		return s
	}
	return 0.5
}

// contradicts runs the two-stage check (§4.5 step 2). Stage A is the
// structural fast path; stage B is the LLM probe, consulted only when
// stage A found no signal and a provider is configured.
func (a *AME) contradicts(ctx context.Context, draft string, fact Fact) (bool, string, error) {
	if ok, reason := contradictsStructural(draft, fact); ok {
		return true, reason, nil
	}

	if a.provider == nil {
		return false, "", nil
	}

	contradicts, reason, err := a.contradictionProbe(ctx, draft, fact)
	if err != nil {
		return false, "", &ContradictionCheckFailedError{Err: err}
	}
	return contradicts, reason, nil
}

var numberPattern = regexp.MustCompile(`\d+`)
var negationPattern = regexp.MustCompile(`(?i)\b(not|n't|never|no)\b`)
var uncertaintyPattern = regexp.MustCompile(`(?i)\b(i don'?t know|not sure|unsure|no idea)\b`)

// contradictsStructural implements stage A: number mismatch, negation
// mismatch, and the uncertainty-vs-known-fact rule from §9's resolved open
// question (uncertainty counts as contradiction only against a LONG_TERM or
// STABLE fact).
func contradictsStructural(draft string, fact Fact) (bool, string) {
	normDraft := norm.NFKC.String(draft)
	normFact := norm.NFKC.String(fact.Value)

	if uncertaintyPattern.MatchString(normDraft) {
		if fact.Authority == AuthorityLongTerm || fact.Status == FactStatusStable {
			return true, "draft expresses uncertainty despite a durable canonical fact"
		}
		return false, ""
	}

	if strings.Contains(strings.ToLower(normDraft), strings.ToLower(normFact)) {
		return false, ""
	}

	draftNums := numberPattern.FindAllString(normDraft, -1)
	factNums := numberPattern.FindAllString(normFact, -1)
	if len(draftNums) > 0 && len(factNums) > 0 && !sameSet(draftNums, factNums) {
		return true, "number mismatch between draft and canonical fact"
	}

	if negationPattern.MatchString(normDraft) != negationPattern.MatchString(normFact) {
		return true, "negation mismatch between draft and canonical fact"
	}

	if factNums == nil && draftNums == nil && fact.FactType == "identity" {
		return true, "named-entity mismatch between draft and canonical fact"
	}

	return false, ""
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// contradictionProbe is stage B: prompt the model with {draft, fact} and
// expect {"contradicts": bool, "reason": string}. Parses defensively
// against markdown-fenced JSON (§9 Supplemented Features).
func (a *AME) contradictionProbe(ctx context.Context, draft string, fact Fact) (bool, string, error) {
	prompt := fmt.Sprintf(
		"Canonical fact: %s.%s = %q\nDraft reply: %q\nDoes the draft reply contradict the canonical fact? Respond with strict JSON: {\"contradicts\": bool, \"reason\": string}",
		fact.Domain, fact.Key, fact.Value, draft,
	)
	resp, err := a.provider.Chat(ctx, ChatRequest{
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.3,
	})
	if err != nil {
		return false, "", err
	}

	var parsed struct {
		Contradicts bool   `json:"contradicts"`
		Reason      string `json:"reason"`
	}
	raw := extractJSONObject(resp.Content)
	if raw == "" {
		return false, "", fmt.Errorf("no JSON object found in contradiction probe response")
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return false, "", fmt.Errorf("parse contradiction probe response: %w", err)
	}
	return parsed.Contradicts, parsed.Reason, nil
}

// extractJSONObject finds the outer {...} pair, tolerating markdown code
// fences around the LLM's response.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// expandNumberedSiblings adds every fact from the full retrieved set that
// shares a numbered-key prefix (domain, prefix) with a contradicting fact,
// so a single wrong or missing member of a numbered group (child_1,
// child_2, ...) pulls in its siblings rather than reporting a partial list.
func expandNumberedSiblings(contradicting []Fact, all []ScoredFact) []Fact {
	groupPrefixes := make(map[string]bool)
	for _, f := range contradicting {
		if m := numberedKeyPattern.FindStringSubmatch(f.Key); m != nil {
			groupPrefixes[f.Domain+"."+m[1]] = true
		}
	}
	if len(groupPrefixes) == 0 {
		return contradicting
	}

	seen := make(map[string]bool, len(contradicting))
	result := make([]Fact, 0, len(contradicting))
	for _, f := range contradicting {
		seen[f.ID] = true
		result = append(result, f)
	}
	for _, sf := range all {
		f := sf.Fact
		if seen[f.ID] {
			continue
		}
		m := numberedKeyPattern.FindStringSubmatch(f.Key)
		if m == nil || !groupPrefixes[f.Domain+"."+m[1]] {
			continue
		}
		seen[f.ID] = true
		result = append(result, f)
	}
	return result
}

// synthesizeOverride builds the override reply grounded in the
// contradicting facts. When multiple facts share a numbered-key pattern
// (child_1, child_2, ...), they are synthesized as a list rather than only
// the first being returned (§4.5 step 3).
func synthesizeOverride(facts []Fact) string {
	if len(facts) == 1 {
		return facts[0].Value
	}

	groups := make(map[string][]Fact)
	var order []string
	for _, f := range facts {
		prefix := f.Key
		if m := numberedKeyPattern.FindStringSubmatch(f.Key); m != nil {
			prefix = m[1]
		}
		if _, seen := groups[prefix]; !seen {
			order = append(order, prefix)
		}
		groups[prefix] = append(groups[prefix], f)
	}

	var parts []string
	for _, prefix := range order {
		group := groups[prefix]
		sort.Slice(group, func(i, j int) bool { return group[i].Key < group[j].Key })
		values := make([]string, len(group))
		for i, f := range group {
			values[i] = f.Value
		}
		parts = append(parts, joinWithAnd(values))
	}
	return strings.Join(parts, "; ")
}

func joinWithAnd(values []string) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		return values[0]
	case 2:
		return values[0] + " and " + values[1]
	default:
		return strings.Join(values[:len(values)-1], ", ") + ", and " + values[len(values)-1]
	}
}

// extractAndRegister applies a cheap "X is Y" / "my X is Y" heuristic to
// pull a user assertion out of userMessage and registers it with the
// observation sink tagged CHAT_USER (§4.5 step 4). Best-effort: failures to
// match are silent, since this is an enrichment, not a required path.
func (a *AME) extractAndRegister(ctx context.Context, userMessage, domain string) {
	m := userAssertionPattern.FindStringSubmatch(userMessage)
	if m == nil {
		return
	}
	key := strings.ToLower(strings.TrimSpace(m[1]))
	value := strings.TrimSpace(m[2])
	if key == "" || value == "" {
		return
	}
	if domain == "" || domain == "unknown" {
		domain = "identity"
	}
	if err := a.sink.RegisterObservation(ctx, domain, key, value, SourceChatUser, AuthorityShortTerm); err != nil {
		a.logger.Warn("ame: register observation failed", "domain", domain, "key", key, "error", err)
	}
}

var userAssertionPattern = regexp.MustCompile(`(?i)\bmy\s+([a-z_]+)\s+is\s+([^.!?]+)`)
