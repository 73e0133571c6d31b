package veritas

import "context"

// FactStore persists Facts, CMC's adaptive schema counters, and MCE's
// dependency graph. Implementations live in store/sqlite and store/postgres.
type FactStore interface {
	// UpsertFact inserts a new Fact or overwrites an existing one at the
	// same ID. Self-Healing calls this after MIR has decided the winning
	// value; CMC.StoreFact's direct write path calls it without MIR.
	UpsertFact(ctx context.Context, fact Fact) error
	// GetFact returns the current ACTIVE/STABLE Fact for (domain,key), or
	// ok=false if none exists.
	GetFact(ctx context.Context, domain, key string) (Fact, bool, error)
	// GetFactsByDomainKey returns every non-deprecated Fact for
	// (domain,key), used by MIR to detect conflicts.
	GetFactsByDomainKey(ctx context.Context, domain, key string) ([]Fact, error)
	// SearchFacts performs similarity search within the given domains
	// (empty = unrestricted). Results are sorted by Score descending.
	SearchFacts(ctx context.Context, embedding []float32, domains []string, topK int) ([]ScoredFact, error)
	// DeprecateFact marks a Fact DEPRECATED without deleting it (§3
	// invariant 4: retained for audit until dependents are invalidated).
	DeprecateFact(ctx context.Context, id string) error
	// SetFactStatus updates a Fact's status in place (MCA periodic decay,
	// MCE dependent invalidation).
	SetFactStatus(ctx context.Context, id string, status FactStatus) error
	// CountFacts returns the total fact count, and the count for one
	// domain (domain == "" counts all domains).
	CountFacts(ctx context.Context, domain string) (int, error)
	// AllFacts returns every non-deprecated Fact, used by MCA's periodic
	// decay scan.
	AllFacts(ctx context.Context) ([]Fact, error)

	// --- adaptive schema ---
	// IncrementUsage bumps the usage counter for (domain,key) and returns
	// the new count. Used by CMC's auto-create/auto-learn thresholds.
	IncrementUsage(ctx context.Context, domain, key string) (int, error)
	// KnownKeys returns every learned key in domain, used by the fuzzy
	// matcher.
	KnownKeys(ctx context.Context, domain string) ([]string, error)
	// KnownDomains returns every dynamically created domain; the core
	// domains are not included.
	KnownDomains(ctx context.Context) ([]string, error)
	// LearnKey records key as known in domain.
	LearnKey(ctx context.Context, domain, key string) error
	// LearnDomain records domain as a dynamically created domain.
	LearnDomain(ctx context.Context, domain string) error
	// CountDynamicDomains returns how many domains were auto-created,
	// bounded by maxDynamicDomains.
	CountDynamicDomains(ctx context.Context) (int, error)

	// --- causality graph (MCE) ---
	// AddDependency records that dependent depends on dependsOn: if
	// dependsOn is deprecated, dependent is set SUSPECT.
	AddDependency(ctx context.Context, dependent, dependsOn string) error
	// Dependents returns every Fact ID that depends on factID.
	Dependents(ctx context.Context, factID string) ([]string, error)

	Init(ctx context.Context) error
	Close() error
}

// ChunkStore persists SMM's conversational Chunks.
type ChunkStore interface {
	StoreChunk(ctx context.Context, chunk Chunk) error
	// SearchChunks performs similarity search over chunks, sorted by
	// Score descending.
	SearchChunks(ctx context.Context, embedding []float32, topK int) ([]ScoredChunk, error)
	// SessionHistory returns the most recent k chunks for sessionID by
	// timestamp descending.
	SessionHistory(ctx context.Context, sessionID string, k int) ([]Chunk, error)
	// TouchChunk increments UsageCount and refreshes LastAccessedAt.
	TouchChunk(ctx context.Context, id string, accessedAt int64) error
	// ApplyDecay multiplies every chunk's RelevanceDecay by factor.
	ApplyDecay(ctx context.Context, factor float64) error
	// DecayUnused multiplies RelevanceDecay by factor only for chunks with
	// UsageCount below usageThreshold, and deletes any chunk whose decay
	// falls below minRelevance.
	DecayUnused(ctx context.Context, usageThreshold int, factor, minRelevance float64) error
	// PruneOlderThan deletes every chunk whose own most recent activity
	// (max(lastAccessedAt, timestamp)) is before cutoff, returning the count
	// removed. Each chunk is judged on its own: the rest of its session is
	// not considered, so an old chunk of a still-active session is deleted.
	PruneOlderThan(ctx context.Context, cutoff int64) (int, error)
	// AllChunks returns every chunk, used for eviction-order scans in
	// small deployments (sqlite brute force).
	AllChunks(ctx context.Context) ([]Chunk, error)
	DeleteChunk(ctx context.Context, id string) error

	Init(ctx context.Context) error
	Close() error
}

// ObservationStore persists Self-Healing's append-only Observations and
// MIR's Conflict records.
type ObservationStore interface {
	AppendObservation(ctx context.Context, obs Observation) error
	ObservationsFor(ctx context.Context, domain, key string) ([]Observation, error)

	// SaveConflict persists MIR's current resolution for (domain,key),
	// upserted by (domain,key): a later call for the same pair replaces
	// the prior record, so the store always reflects the latest detection
	// (§3 Conflict, §4.7). Open conflicts (tied support weights) remain
	// enumerable via OpenConflicts until a later observation resolves them.
	SaveConflict(ctx context.Context, c Conflict) error
	// OpenConflicts returns every Conflict currently left open for manual
	// review (§4.10 DetectConflicts), optionally restricted to one domain;
	// domain == "" returns every domain.
	OpenConflicts(ctx context.Context, domain string) ([]Conflict, error)

	Init(ctx context.Context) error
	Close() error
}

// PatternStore persists MLC's learned and cross-domain patterns so learning
// survives restart (§4.6 Persistence).
type PatternStore interface {
	SavePattern(ctx context.Context, p LearnedPattern) error
	LoadPatterns(ctx context.Context, domain string) ([]LearnedPattern, error)
	SaveCrossDomainPattern(ctx context.Context, p CrossDomainPattern) error
	LoadCrossDomainPatterns(ctx context.Context) ([]CrossDomainPattern, error)

	Init(ctx context.Context) error
	Close() error
}

// OptimizerStore persists Self-Optimizing's metric history and adjustment
// ledger.
type OptimizerStore interface {
	RecordMetric(ctx context.Context, m Metric) error
	RecentMetrics(ctx context.Context, name MetricName, since int64) ([]Metric, error)
	SaveAdjustment(ctx context.Context, adj Adjustment) error
	PendingAdjustments(ctx context.Context) ([]Adjustment, error)
	UpdateAdjustmentResult(ctx context.Context, id string, result AdjustmentResult) error

	Init(ctx context.Context) error
	Close() error
}
