package veritas

// Authority ranks how durable an observation's origin considers its own
// claim. Its weight is one factor of supportWeight, multiplied by the
// source weight and the temporal factor.
type Authority string

const (
	AuthorityTest       Authority = "TEST"
	AuthorityShortTerm  Authority = "SHORT_TERM"
	AuthorityMediumTerm Authority = "MEDIUM_TERM"
	AuthorityStable     Authority = "STABLE"
	AuthorityLongTerm   Authority = "LONG_TERM"
)

// Source identifies where a claim came from, independent of Authority.
type Source string

const (
	SourceCLITest           Source = "CLI_TEST"
	SourceChatUser          Source = "CHAT_USER"
	SourceMemoryEnhancement Source = "MEMORY_ENHANCEMENT"
	SourceIngestDoc         Source = "INGEST_DOC"
	SourceSystemDefault     Source = "SYSTEM_DEFAULT"
)

// FactStatus tracks a Fact's lifecycle under MCA's periodic decay and MIR's
// conflict resolution.
type FactStatus string

const (
	FactStatusActive     FactStatus = "ACTIVE"
	FactStatusStable     FactStatus = "STABLE"
	FactStatusSuspect    FactStatus = "SUSPECT"
	FactStatusDeprecated FactStatus = "DEPRECATED"
)

// Fact is one canonical statement owned by CMC, written by Self-Healing
// after MIR aggregation or directly by CMC.StoreFact; its status is changed
// by Self-Healing's MIR resolution and MCA decay and by MCE invalidation.
type Fact struct {
	ID             string
	Domain         string
	Key            string
	Value          string
	FactType       string
	Confidence     float64
	Authority      Authority
	Status         FactStatus
	Source         Source
	CreatedAt      int64
	LastAccessedAt int64
	SupportCount   int
	Embedding      []float32
}

// Observation is a single data point that is not yet truth. Owned by
// Self-Healing; append-only; feeds Fact aggregation.
type Observation struct {
	ID        string
	Domain    string
	Key       string
	Value     string
	Source    Source
	Authority Authority
	Timestamp int64
}

// ConflictResolution records how a Conflict was settled.
type ConflictResolution string

const (
	ConflictResolutionWeighted    ConflictResolution = "WEIGHTED"
	ConflictResolutionUnresolvable ConflictResolution = "UNRESOLVABLE"
)

// Conflict is detected when ≥2 non-deprecated Facts share (domain,key) with
// different values. Resolved synchronously on detection by MIR. Open is
// true only for an UNRESOLVABLE resolution (tied support weights): the
// Conflict is kept persisted and enumerable via DetectConflicts until a
// later observation breaks the tie (§4.7, §7 CONFLICT_UNRESOLVABLE).
type Conflict struct {
	ID              string
	Domain          string
	Key             string
	CompetingValues []string
	Resolution      ConflictResolution
	WinningValue    string
	ResolvedAt      int64
	Open            bool
}

// Chunk is a conversational exchange embedded for semantic search, owned
// by SMM.
type Chunk struct {
	ID             string
	SessionID      string
	Role           string
	Text           string
	Embedding      []float32
	Timestamp      int64
	LastAccessedAt int64
	UsageCount     int
	RelevanceDecay float64
}

// Concept is a node in the graph store owned by GMM.
type Concept struct {
	Name   string
	Domain string
}

// RelationType enumerates the typed edges GMM supports between Concepts.
type RelationType string

const (
	RelationSupports   RelationType = "SUPPORTS"
	RelationConstrains RelationType = "CONSTRAINS"
	RelationPartOf     RelationType = "PART_OF"
)

// Relation is a weighted typed edge between two Concepts.
type Relation struct {
	From   string
	To     string
	Type   RelationType
	Weight float64
}

// RelatedConcept is one hop returned by GMM.FindRelated.
type RelatedConcept struct {
	Name   string
	Type   RelationType
	Weight float64
}

// DomainSignal is DDE's transient per-turn classification result.
type DomainSignal struct {
	Domain           string
	Confidence       float64
	SecondaryDomains []string
}

// PatternObservation is one (question, domain, score, patterns, wasHelpful)
// tuple fed to MLC.
type PatternObservation struct {
	Question   string
	Domain     string
	Score      float64
	Patterns   []string
	WasHelpful bool
	Timestamp  int64
}

// LearnedPattern is MLC's per-domain statistics for one normalized pattern.
type LearnedPattern struct {
	Pattern        string
	Domain         string
	Successes      int
	Total          int
	AverageScore   float64
	ThresholdDelta float64
}

// CrossDomainPattern is a pattern validated positively in enough distinct
// domains to be marked universal.
type CrossDomainPattern struct {
	Pattern    string
	Domains    []string
	Confidence float64
	Universal  bool
}

// MetricName enumerates the Self-Optimizing layer's tracked rolling metrics.
type MetricName string

const (
	MetricOverrideRate  MetricName = "override_rate"
	MetricConflictRate  MetricName = "conflict_rate"
	MetricAccuracy      MetricName = "accuracy"
	MetricDomainQuality MetricName = "domain_quality"
	MetricMemoryHitRate MetricName = "memory_hit_rate"
)

// Metric is a single sample of a tracked metric.
type Metric struct {
	Name      MetricName
	Value     float64
	Timestamp int64
}

// AdjustmentResult is the final outcome of a Self-Optimizing adjustment.
type AdjustmentResult string

const (
	AdjustmentPending  AdjustmentResult = "PENDING"
	AdjustmentAnchored AdjustmentResult = "ANCHORED"
	AdjustmentReverted AdjustmentResult = "REVERTED"
)

// Adjustment records one parameter change proposed by MetaEvaluator and
// settled by EffectivenessTracker.
type Adjustment struct {
	ID            string
	Parameter     string
	OldValue      float64
	NewValue      float64
	Reason        string
	BaselineStats map[MetricName]float64
	Result        AdjustmentResult
	ProposedAt    int64
	EvaluateAfter int64
}

// ScoredFact pairs a Fact with a query similarity score.
type ScoredFact struct {
	Fact  Fact
	Score float64
}

// ScoredChunk pairs a Chunk with a query similarity score.
type ScoredChunk struct {
	Chunk Chunk
	Score float64
}

// RoutingContext carries per-turn scratch state through the Router's single
// pass: domain signal, retrieved facts/chunks, per-layer timings and errors.
// It replaces any shared global state (§9 of the design notes).
type RoutingContext struct {
	SessionID       string
	UserMessage     string
	AssistantDraft  string
	Domain          DomainSignal
	RetrievedFacts  []ScoredFact
	RetrievedChunks []ScoredChunk
	Errors          map[string]string
	Timings         map[string]int64
	Decisions       map[string]string
}

// NewRoutingContext initializes a RoutingContext with empty scratch maps.
func NewRoutingContext(sessionID, userMessage, assistantDraft string) *RoutingContext {
	return &RoutingContext{
		SessionID:      sessionID,
		UserMessage:    userMessage,
		AssistantDraft: assistantDraft,
		Errors:         make(map[string]string),
		Timings:        make(map[string]int64),
		Decisions:      make(map[string]string),
	}
}

// ChatMessage is one turn in an LLM chat-style request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest is a chat-style request sent to the configured Provider.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
}

// ChatResponse is the Provider's reply to a ChatRequest.
type ChatResponse struct {
	Content string
}

// MemorySummary reports what HandleChatTurn retrieved and stored, part of
// the external response contract (§6).
type MemorySummary struct {
	CanonicalFactsRetrieved int
	ContextChunksRetrieved  int
	StoredChunkID           string
}

// TurnMetadata is the non-decisional metadata attached to a HandleChatTurn
// response.
type TurnMetadata struct {
	Timestamp        string
	SessionID        string
	Domain           string
	DomainConfidence float64
}

// ChatTurnRequest is the HandleChatTurn entry point's input (§6).
type ChatTurnRequest struct {
	UserMessage      string
	AssistantDraft   string
	SessionID        string
	StoreInteraction bool
}

// ChatTurnResponse is the HandleChatTurn entry point's output (§6). It is
// the only observable product of a turn — nothing is written to standard
// output.
type ChatTurnResponse struct {
	FinalReply     string
	WasOverridden  bool
	ConflictReason string
	Memory         MemorySummary
	Metadata       TurnMetadata
	RoutingLog     *RoutingContext
}
