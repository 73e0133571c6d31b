package veritas

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/nevindra/veritas/config"
)

// coreDomains are the domains CMC's adaptive schema starts with, before any
// dynamic domain is auto-created (§4.1).
var coreDomains = []string{"identity", "family", "preferences", "professional", "assistant"}

// forbiddenKeyPattern rejects keys or values that look like credentials or
// sensitive identifiers, regardless of learning thresholds (§4.1).
var forbiddenKeyPattern = regexp.MustCompile(`(?i)\b(password|api[_-]?key|ssn|social[_-]?security|bank[_-]?account|account[_-]?number)\b`)

// numberedKeyPattern recognizes keys of the form <prefix>_<digits>, e.g.
// child_1, child_2 (§4.1).
var numberedKeyPattern = regexp.MustCompile(`^(.+)_(\d+)$`)

// CMCOption configures a CMC.
type CMCOption func(*CMC)

// WithCMCLogger sets a structured logger; unset means discard (nopLogger).
func WithCMCLogger(l *slog.Logger) CMCOption {
	return func(c *CMC) { c.logger = l }
}

// WithCMCConfig overrides the default CMCConfig.
func WithCMCConfig(cfg config.CMCConfig) CMCOption {
	return func(c *CMC) { c.cfg = cfg }
}

// WithCMCClock overrides the time source, for deterministic tests.
func WithCMCClock(nowFunc func() int64) CMCOption {
	return func(c *CMC) { c.nowFunc = nowFunc }
}

// CMC is the Canonical Memory Core: Facts keyed by (domain,key), with an
// adaptive schema that grows monotonically as new domains and keys are
// observed (§4.1).
type CMC struct {
	store     FactStore
	embedder  EmbeddingProvider
	cfg       config.CMCConfig
	logger    *slog.Logger
	nowFunc   func() int64
}

// NewCMC constructs a CMC over a FactStore. embedder may be nil; in that
// case QueryRelatedFacts always returns an empty result instead of failing,
// since embedding generation is an explicit non-goal collaborator (§1).
func NewCMC(store FactStore, embedder EmbeddingProvider, opts ...CMCOption) *CMC {
	c := &CMC{
		store:    store,
		embedder: embedder,
		cfg:      config.Default().CMC,
		logger:   nopLogger,
		nowFunc:  NowUnix,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ValidateKey resolves (domain,key) against the adaptive schema: forbidden
// patterns are always rejected; unknown domains/keys below their learning
// threshold are rejected with SchemaViolationError; otherwise the resolved
// (possibly fuzzy-matched) domain and key are returned and usage counters
// are bumped (§4.1).
func (c *CMC) ValidateKey(ctx context.Context, domain, key string) (string, string, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	key = normalizeForMatch(key)

	if forbiddenKeyPattern.MatchString(domain) || forbiddenKeyPattern.MatchString(key) {
		return "", "", &SchemaViolationError{Domain: domain, Key: key, Reason: "forbidden pattern"}
	}

	resolvedDomain, err := c.resolveDomain(ctx, domain)
	if err != nil {
		return "", "", err
	}

	resolvedKey, err := c.resolveKey(ctx, resolvedDomain, key)
	if err != nil {
		return "", "", err
	}

	return resolvedDomain, resolvedKey, nil
}

func (c *CMC) resolveDomain(ctx context.Context, domain string) (string, error) {
	for _, d := range coreDomains {
		if d == domain {
			return d, nil
		}
	}

	known, err := c.store.KnownDomains(ctx)
	if err != nil {
		return "", &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	for _, d := range known {
		if d == domain {
			return d, nil
		}
	}

	count, err := c.store.IncrementUsage(ctx, domain, "")
	if err != nil {
		return "", &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	if count < c.cfg.CreationThreshold {
		return "", &SchemaViolationError{Domain: domain, Reason: fmt.Sprintf("unknown domain, seen %d/%d times", count, c.cfg.CreationThreshold)}
	}

	dynCount, err := c.store.CountDynamicDomains(ctx)
	if err != nil {
		return "", &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	if dynCount >= c.cfg.MaxDynamicDomains {
		return "", &LimitExceededError{Limit: "max_dynamic_domains", Current: dynCount, Max: c.cfg.MaxDynamicDomains}
	}

	if err := c.store.LearnDomain(ctx, domain); err != nil {
		return "", &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	c.logger.Info("cmc: auto-created domain", "domain", domain, "usages", count)
	return domain, nil
}

func (c *CMC) resolveKey(ctx context.Context, domain, key string) (string, error) {
	known, err := c.store.KnownKeys(ctx, domain)
	if err != nil {
		return "", &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	for _, k := range known {
		if k == key {
			return k, nil
		}
	}

	if m := numberedKeyPattern.FindStringSubmatch(key); m != nil {
		prefix := m[1]
		for _, k := range known {
			if p := numberedKeyPattern.FindStringSubmatch(k); p != nil && p[1] == prefix {
				if err := c.store.LearnKey(ctx, domain, key); err != nil {
					return "", &BackendUnavailableError{Backend: "fact_store", Err: err}
				}
				return key, nil
			}
		}
	}

	count, err := c.store.IncrementUsage(ctx, domain, key)
	if err != nil {
		return "", &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	if count >= c.cfg.CreationThreshold {
		if err := c.store.LearnKey(ctx, domain, key); err != nil {
			return "", &BackendUnavailableError{Backend: "fact_store", Err: err}
		}
		c.logger.Info("cmc: auto-learned key", "domain", domain, "key", key, "usages", count)
		return key, nil
	}

	if best, ok := fuzzyMatchKey(key, known, c.cfg.FuzzySimilarityThreshold); ok {
		return best, nil
	}

	return "", &SchemaViolationError{Domain: domain, Key: key, Reason: fmt.Sprintf("unknown key, seen %d/%d times", count, c.cfg.CreationThreshold)}
}

// StoreFact writes a Fact directly (the legacy path, §4.1): validates
// against the adaptive schema and hard caps, then upserts. The observation
// path is exposed by the SelfHealing type, which resolves conflicts through
// MIR and writes the winning Fact with FactStore.UpsertFact itself.
func (c *CMC) StoreFact(ctx context.Context, domain, key, value, factType string, authority Authority, source Source, id string) (Fact, error) {
	start := time.Now()
	if len(value) > c.cfg.MaxFactLength {
		return Fact{}, &SchemaViolationError{Domain: domain, Key: key, Reason: "value exceeds max fact length"}
	}

	resolvedDomain, resolvedKey, err := c.ValidateKey(ctx, domain, key)
	if err != nil {
		return Fact{}, err
	}

	total, err := c.store.CountFacts(ctx, "")
	if err != nil {
		return Fact{}, &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	if total >= c.cfg.MaxTotalFacts {
		return Fact{}, &LimitExceededError{Limit: "max_total_facts", Current: total, Max: c.cfg.MaxTotalFacts}
	}
	perDomain, err := c.store.CountFacts(ctx, resolvedDomain)
	if err != nil {
		return Fact{}, &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	if perDomain >= c.cfg.MaxFactsPerDomain {
		return Fact{}, &LimitExceededError{Limit: "max_facts_per_domain", Current: perDomain, Max: c.cfg.MaxFactsPerDomain}
	}

	if id == "" {
		id = NewID()
	}
	fact := Fact{
		ID:             id,
		Domain:         resolvedDomain,
		Key:            resolvedKey,
		Value:          value,
		FactType:       factType,
		Confidence:     1.0,
		Authority:      authority,
		Status:         FactStatusActive,
		Source:         source,
		CreatedAt:      c.nowFunc(),
		LastAccessedAt: c.nowFunc(),
		SupportCount:   1,
	}
	if c.embedder != nil {
		if vecs, err := c.embedder.Embed(ctx, []string{value}); err == nil && len(vecs) == 1 {
			fact.Embedding = vecs[0]
		}
	}

	if err := c.store.UpsertFact(ctx, fact); err != nil {
		c.logger.Error("cmc: store fact failed", "domain", resolvedDomain, "key", resolvedKey, "error", err, "duration", time.Since(start))
		return Fact{}, &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	c.logger.Debug("cmc: stored fact", "domain", resolvedDomain, "key", resolvedKey, "duration", time.Since(start))
	return fact, nil
}

// GetFact returns the current canonical Fact for (domain,key), if any.
func (c *CMC) GetFact(ctx context.Context, domain, key string) (Fact, bool, error) {
	f, ok, err := c.store.GetFact(ctx, strings.ToLower(domain), normalizeForMatch(key))
	if err != nil {
		return Fact{}, false, &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	return f, ok, nil
}

// QueryRelatedFacts returns the top-k Facts by vector similarity to
// queryText, restricted to permitted domains (empty = unrestricted). If no
// EmbeddingProvider is configured, returns an empty result rather than
// failing the turn.
func (c *CMC) QueryRelatedFacts(ctx context.Context, queryText string, domains []string, k int) ([]ScoredFact, error) {
	if c.embedder == nil {
		return nil, nil
	}
	vecs, err := c.embedder.Embed(ctx, []string{queryText})
	if err != nil || len(vecs) != 1 {
		return nil, &BackendUnavailableError{Backend: "embedder", Err: err}
	}
	results, err := c.store.SearchFacts(ctx, vecs[0], domains, k)
	if err != nil {
		return nil, &BackendUnavailableError{Backend: "fact_store", Err: err}
	}
	return results, nil
}

// normalizeForMatch NFKC-normalizes and lowercases text so obfuscated
// Unicode variants of the same key cannot dodge schema/forbidden-pattern
// matching.
func normalizeForMatch(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

// fuzzyMatchKey returns the known key most similar to key if its normalized
// similarity is at or above threshold, per §4.1's fuzzy-match fallback.
func fuzzyMatchKey(key string, known []string, threshold float64) (string, bool) {
	var best string
	var bestScore float64
	for _, k := range known {
		score := stringSimilarity(key, k)
		if score > bestScore {
			bestScore = score
			best = k
		}
	}
	if bestScore >= threshold {
		return best, true
	}
	return "", false
}

// stringSimilarity returns a normalized edit-distance-like similarity in
// [0,1]: 1 - levenshtein(a,b)/max(len(a),len(b)).
func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
