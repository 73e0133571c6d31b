package veritas

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/nevindra/veritas/config"
)

// DomainExemplars maps a domain name to the set of example texts used for
// the semantic-similarity signal.
type DomainExemplars map[string][]string

// DomainKeywords maps a domain name to the whole-word keywords checked by
// the keyword-hit signal.
type DomainKeywords map[string][]string

// DDEOption configures a DDE.
type DDEOption func(*DDE)

// WithDDELogger sets a structured logger; unset means discard.
func WithDDELogger(l *slog.Logger) DDEOption {
	return func(d *DDE) { d.logger = l }
}

// WithDDEConfig overrides the default DDEConfig.
func WithDDEConfig(cfg config.DDEConfig) DDEOption {
	return func(d *DDE) { d.cfg = cfg }
}

// WithDomainExemplars sets the exemplar texts used for semantic similarity.
func WithDomainExemplars(ex DomainExemplars) DDEOption {
	return func(d *DDE) { d.exemplars = ex }
}

// WithDomainKeywords sets the whole-word keyword lists per domain.
func WithDomainKeywords(kw DomainKeywords) DDEOption {
	return func(d *DDE) {
		d.keywordRE = make(map[string][]*regexp.Regexp, len(kw))
		for domain, words := range kw {
			res := make([]*regexp.Regexp, 0, len(words))
			for _, w := range words {
				res = append(res, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
			}
			d.keywordRE[domain] = res
		}
	}
}

// DDE is the Dynamic Domain Engine: Classify(text) → DomainSignal, combining
// five weighted signals (§4.4).
type DDE struct {
	embedder  EmbeddingProvider
	exemplars DomainExemplars
	keywordRE map[string][]*regexp.Regexp
	cfg       config.DDEConfig
	logger    *slog.Logger

	mu           sync.Mutex
	exemplarLRU  *lruCache
	embedCache   map[string][]float32
	transitions  map[string]map[string]int
	recentTurns  []string
	lastDomain   string
}

// NewDDE constructs a DDE. embedder may be nil, in which case the semantic
// signal contributes 0 and classification falls back to the remaining
// four signals.
func NewDDE(embedder EmbeddingProvider, opts ...DDEOption) *DDE {
	d := &DDE{
		embedder:    embedder,
		exemplars:   make(DomainExemplars),
		keywordRE:   make(map[string][]*regexp.Regexp),
		cfg:         config.Default().DDE,
		logger:      nopLogger,
		embedCache:  make(map[string][]float32),
		transitions: make(map[string]map[string]int),
	}
	for _, o := range opts {
		o(d)
	}
	d.exemplarLRU = newLRUCache(d.cfg.ExemplarCacheSize)
	return d
}

// Classify combines semantic similarity, keyword hits, learned domain
// transitions, a meta-prior over recent turns, and token entropy into a
// DomainSignal (§4.4). If the winning score is below confidenceThreshold,
// the returned domain is "unknown" and SecondaryDomains carries the ranked
// list.
func (d *DDE) Classify(ctx context.Context, text string) DomainSignal {
	scores := make(map[string]float64)

	semantic := d.semanticScores(ctx, text)
	for domain, s := range semantic {
		scores[domain] += d.cfg.SemanticWeight * s
	}

	keyword := d.keywordScores(text)
	for domain, s := range keyword {
		scores[domain] += d.cfg.KeywordWeight * s
	}

	transition := d.transitionScores()
	for domain, s := range transition {
		scores[domain] += d.cfg.TransitionWeight * s
	}

	metaPrior := d.metaPriorScores()
	for domain, s := range metaPrior {
		scores[domain] += d.cfg.MetaPriorWeight * s
	}

	if countTokens(text) >= d.cfg.MinTokensForEntropy {
		entropy := tokenEntropy(text)
		for domain := range scores {
			scores[domain] += d.cfg.EntropyWeight * entropy
		}
	}

	ranked := rankDomains(scores)
	if len(ranked) == 0 {
		return DomainSignal{Domain: "unknown"}
	}

	top := ranked[0]
	if top.score < d.cfg.ConfidenceThreshold {
		return DomainSignal{Domain: "unknown", Confidence: top.score, SecondaryDomains: domainNames(ranked)}
	}
	return DomainSignal{Domain: top.domain, Confidence: top.score, SecondaryDomains: domainNames(ranked[1:])}
}

// RecordTurn updates the transition history and recent-turns window after a
// turn's domain is finalized, so future calls' transition/meta-prior
// signals reflect it.
func (d *DDE) RecordTurn(domain string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastDomain != "" {
		if d.transitions[d.lastDomain] == nil {
			d.transitions[d.lastDomain] = make(map[string]int)
		}
		d.transitions[d.lastDomain][domain]++
	}
	d.lastDomain = domain
	d.recentTurns = append(d.recentTurns, domain)
	if len(d.recentTurns) > 50 {
		d.recentTurns = d.recentTurns[len(d.recentTurns)-50:]
	}
}

func (d *DDE) semanticScores(ctx context.Context, text string) map[string]float64 {
	if d.embedder == nil || len(d.exemplars) == 0 {
		return nil
	}
	queryVec, ok := d.cachedEmbed(ctx, text)
	if !ok {
		return nil
	}

	scores := make(map[string]float64, len(d.exemplars))
	for domain, exemplars := range d.exemplars {
		vec := d.exemplarEmbedding(ctx, domain, exemplars)
		if vec == nil {
			continue
		}
		scores[domain] = cosineSimilarity(queryVec, vec)
	}
	return scores
}

func (d *DDE) cachedEmbed(ctx context.Context, text string) ([]float32, bool) {
	key := contentHash(text)
	d.mu.Lock()
	if v, ok := d.embedCache[key]; ok {
		d.mu.Unlock()
		return v, true
	}
	d.mu.Unlock()

	vecs, err := d.embedder.Embed(ctx, []string{text})
	if err != nil || len(vecs) != 1 {
		d.logger.Warn("dde: embed failed", "error", err)
		return nil, false
	}
	d.mu.Lock()
	d.embedCache[key] = vecs[0]
	d.mu.Unlock()
	return vecs[0], true
}

// exemplarEmbedding returns the centroid embedding for a domain's exemplar
// set, cached by LRU keyed on the exemplar set itself (not the domain id),
// per §4.4.
func (d *DDE) exemplarEmbedding(ctx context.Context, domain string, exemplars []string) []float32 {
	cacheKey := strings.Join(exemplars, "|")

	d.mu.Lock()
	if v, ok := d.exemplarLRU.get(cacheKey); ok {
		d.mu.Unlock()
		return v.([]float32)
	}
	d.mu.Unlock()

	vecs, err := d.embedder.Embed(ctx, exemplars)
	if err != nil || len(vecs) == 0 {
		return nil
	}
	centroid := centroidOf(vecs)

	d.mu.Lock()
	d.exemplarLRU.put(cacheKey, centroid)
	d.mu.Unlock()
	return centroid
}

func (d *DDE) keywordScores(text string) map[string]float64 {
	normalized := norm.NFKC.String(text)
	scores := make(map[string]float64, len(d.keywordRE))
	for domain, patterns := range d.keywordRE {
		hits := 0
		for _, re := range patterns {
			if re.MatchString(normalized) {
				hits++
			}
		}
		if len(patterns) > 0 {
			scores[domain] = float64(hits) / float64(len(patterns))
		}
	}
	return scores
}

func (d *DDE) transitionScores() map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	counts, ok := d.transitions[d.lastDomain]
	if !ok {
		return nil
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return nil
	}
	scores := make(map[string]float64, len(counts))
	for domain, c := range counts {
		scores[domain] = float64(c) / float64(total)
	}
	return scores
}

func (d *DDE) metaPriorScores() map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.recentTurns) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, domain := range d.recentTurns {
		counts[domain]++
	}
	scores := make(map[string]float64, len(counts))
	for domain, c := range counts {
		scores[domain] = float64(c) / float64(len(d.recentTurns))
	}
	return scores
}

type rankedDomain struct {
	domain string
	score  float64
}

func rankDomains(scores map[string]float64) []rankedDomain {
	ranked := make([]rankedDomain, 0, len(scores))
	for domain, s := range scores {
		ranked = append(ranked, rankedDomain{domain, s})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked
}

func domainNames(ranked []rankedDomain) []string {
	names := make([]string, len(ranked))
	for i, r := range ranked {
		names[i] = r.domain
	}
	return names
}

// countTokens is a cheap whitespace/punctuation tokenizer, sufficient to
// gate the token-entropy signal (§4.4, §8: texts shorter than 10 tokens
// contribute 0).
func countTokens(text string) int {
	return len(strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}))
}

// tokenEntropy returns a normalized Shannon entropy over token frequencies,
// Classify adds the same entropy term to every domain's score, so it lifts
// scores toward the confidence threshold without changing their order.
func tokenEntropy(text string) float64 {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if len(tokens) == 0 {
		return 0
	}
	counts := make(map[string]int)
	for _, t := range tokens {
		counts[t]++
	}
	var entropy float64
	n := float64(len(tokens))
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * safeLog2(p)
	}
	maxEntropy := safeLog2(float64(len(counts)))
	if maxEntropy == 0 {
		return 0
	}
	return entropy / maxEntropy
}

func safeLog2(x float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Log2(x)
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

func centroidOf(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			if i < len(out) {
				out[i] += x
			}
		}
	}
	n := float32(len(vecs))
	for i := range out {
		out[i] /= n
	}
	return out
}

// lruCache is a minimal LRU keyed by string, used for the exemplar
// embedding cache (capacity ≤ 20, per §4.4).
type lruCache struct {
	capacity int
	items    map[string]*list.Element
	order    *list.List
}

type lruEntry struct {
	key   string
	value any
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &lruCache{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *lruCache) get(key string) (any, bool) {
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).value, true
}

func (c *lruCache) put(key string, value any) {
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&lruEntry{key: key, value: value})
	c.items[key] = el
	if c.order.Len() > c.capacity {
		back := c.order.Back()
		if back != nil {
			c.order.Remove(back)
			delete(c.items, back.Value.(*lruEntry).key)
		}
	}
}
