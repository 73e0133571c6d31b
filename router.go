package veritas

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets a structured logger; unset means discard.
func WithRouterLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithRouterTracer attaches a Tracer; the Router wraps its DDE classify call
// in a "router.dde_classify" span, and no other layer call gets a span.
// Nil is safe (§9 Supplemented Features).
func WithRouterTracer(t Tracer) RouterOption {
	return func(r *Router) { r.tracer = t }
}

// WithRetrievalTopK sets how many Facts and Chunks are retrieved per turn.
func WithRetrievalTopK(facts, chunks int) RouterOption {
	return func(r *Router) { r.factK, r.chunkK = facts, chunks }
}

// WithChunkThreshold sets SMM's minimum combined relevance score.
func WithChunkThreshold(threshold float64) RouterOption {
	return func(r *Router) { r.chunkThreshold = threshold }
}

// WithRouterClock overrides the time source, for deterministic tests.
func WithRouterClock(nowFunc func() int64) RouterOption {
	return func(r *Router) { r.nowFunc = nowFunc }
}

// WithRouterMetricSink wires a MetricSink that receives every per-turn
// timing in rc.Timings (dde_classify_ms, cmc_query_ms, smm_query_ms,
// ame_enforce_ms, turn_total_ms) as the turn completes (SPEC_FULL.md DOMAIN
// STACK: turn timings feed the OTEL observer's latency histograms).
func WithRouterMetricSink(sink MetricSink) RouterOption {
	return func(r *Router) { r.sink = sink }
}

// Router is the single entry point: HandleChatTurn constructs a
// RoutingContext, invokes every layer in dependency order, catches and
// records per-layer errors without aborting the turn, and returns a
// structured ChatTurnResponse. No exception crosses this boundary (§4.R,
// §9).
type Router struct {
	cmc            *CMC
	smm            *SMM
	gmm            *GMM
	dde            *DDE
	ame            *AME
	mlc            *MLC
	selfHealing    *SelfHealing
	selfOptimizing *SelfOptimizing

	logger  *slog.Logger
	tracer  Tracer
	sink    MetricSink
	nowFunc func() int64

	factK          int
	chunkK         int
	chunkThreshold float64

	turnCount          atomic.Int64
	collapseEveryTurns int64
}

// NewRouter constructs a Router over every layer. Any layer may be nil and
// is then skipped (§7): a nil dde classifies every turn as "unknown", a nil
// cmc or smm retrieves nothing, and a nil ame returns the draft unchanged.
func NewRouter(cmc *CMC, smm *SMM, gmm *GMM, dde *DDE, ame *AME, mlc *MLC, selfHealing *SelfHealing, selfOptimizing *SelfOptimizing, opts ...RouterOption) *Router {
	r := &Router{
		cmc:                cmc,
		smm:                smm,
		gmm:                gmm,
		dde:                dde,
		ame:                ame,
		mlc:                mlc,
		selfHealing:        selfHealing,
		selfOptimizing:     selfOptimizing,
		logger:             nopLogger,
		nowFunc:            NowUnix,
		factK:              5,
		chunkK:             5,
		chunkThreshold:     0.5,
		collapseEveryTurns: 50,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// HandleChatTurn is the library's sole entry point (§6). All observable
// behavior is in the returned value; nothing is written to standard output.
func (r *Router) HandleChatTurn(ctx context.Context, req ChatTurnRequest) ChatTurnResponse {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	storeInteraction := req.StoreInteraction

	rc := NewRoutingContext(sessionID, req.UserMessage, req.AssistantDraft)
	turnStart := time.Now()

	domain := r.classifyDomain(ctx, rc)
	rc.Domain = domain

	facts, chunks := r.retrieveParallel(ctx, rc, domain)
	rc.RetrievedFacts = facts
	rc.RetrievedChunks = chunks

	result := r.enforce(ctx, rc, domain, facts)

	var storedChunkID string
	if storeInteraction && r.smm != nil {
		if chunk, err := r.smm.StoreTurn(ctx, sessionID, "user", req.UserMessage); err != nil {
			rc.Errors["smm.store_turn"] = err.Error()
		} else {
			storedChunkID = chunk.ID
		}
		if _, err := r.smm.StoreTurn(ctx, sessionID, "assistant", result.FinalReply); err != nil {
			rc.Errors["smm.store_turn_assistant"] = err.Error()
		}
	}

	r.observeLearning(ctx, req.UserMessage, domain.Domain, result)

	if r.dde != nil {
		r.dde.RecordTurn(domain.Domain)
	}

	r.maybeCollapse(ctx)

	rc.Timings["turn_total_ms"] = time.Since(turnStart).Milliseconds()

	if r.sink != nil {
		for name, ms := range rc.Timings {
			r.sink.ObserveMetric(name, float64(ms))
		}
	}

	return ChatTurnResponse{
		FinalReply:     result.FinalReply,
		WasOverridden:  result.WasOverridden,
		ConflictReason: result.ConflictReason,
		Memory: MemorySummary{
			CanonicalFactsRetrieved: len(facts),
			ContextChunksRetrieved:  len(chunks),
			StoredChunkID:           storedChunkID,
		},
		Metadata: TurnMetadata{
			Timestamp:        time.Unix(r.nowFunc(), 0).UTC().Format(time.RFC3339),
			SessionID:        sessionID,
			Domain:           domain.Domain,
			DomainConfidence: domain.Confidence,
		},
		RoutingLog: rc,
	}
}

func (r *Router) classifyDomain(ctx context.Context, rc *RoutingContext) DomainSignal {
	if r.dde == nil {
		return DomainSignal{Domain: "unknown"}
	}
	start := time.Now()
	var span Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "router.dde_classify")
		defer span.End()
	}
	signal := r.dde.Classify(ctx, rc.UserMessage)
	rc.Timings["dde_classify_ms"] = time.Since(start).Milliseconds()
	rc.Decisions["domain"] = signal.Domain
	return signal
}

// retrieveParallel runs CMC.QueryRelatedFacts and SMM.SearchContext
// concurrently, joined before AME (§2, §5: per-turn orchestration is
// cooperatively concurrent).
func (r *Router) retrieveParallel(ctx context.Context, rc *RoutingContext, domain DomainSignal) ([]ScoredFact, []ScoredChunk) {
	var wg sync.WaitGroup
	var facts []ScoredFact
	var chunks []ScoredChunk

	domains := []string{domain.Domain}
	if domain.Domain == "unknown" {
		domains = nil
	}

	if r.cmc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			fs, err := r.cmc.QueryRelatedFacts(ctx, rc.UserMessage, domains, r.factK)
			rc.Timings["cmc_query_ms"] = time.Since(start).Milliseconds()
			if err != nil {
				rc.Errors["cmc.query"] = err.Error()
				return
			}
			facts = fs
		}()
	}

	if r.smm != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			cs, err := r.smm.SearchContext(ctx, rc.UserMessage, r.chunkK, r.chunkThreshold)
			rc.Timings["smm_query_ms"] = time.Since(start).Milliseconds()
			if err != nil {
				rc.Errors["smm.query"] = err.Error()
				return
			}
			chunks = cs
		}()
	}

	wg.Wait()
	return facts, chunks
}

// enforce calls AME with panic recovery: if AME itself fails, the turn
// returns the original draft unmodified (§4.R, §7).
func (r *Router) enforce(ctx context.Context, rc *RoutingContext, domain DomainSignal, facts []ScoredFact) (result EnforceResult) {
	if r.ame == nil {
		return EnforceResult{FinalReply: rc.AssistantDraft}
	}
	defer func() {
		if rec := recover(); rec != nil {
			rc.Errors["ame.panic"] = fmt.Sprintf("%v", rec)
			result = EnforceResult{FinalReply: rc.AssistantDraft}
		}
	}()

	start := time.Now()
	result = r.ame.Enforce(ctx, rc.UserMessage, rc.AssistantDraft, domain.Domain, facts)
	rc.Timings["ame_enforce_ms"] = time.Since(start).Milliseconds()
	rc.Decisions["overridden"] = fmt.Sprintf("%v", result.WasOverridden)
	return result
}

// observeLearning feeds MLC a PatternObservation derived from this turn.
// MLC is a non-critical layer (§7): failures are swallowed.
func (r *Router) observeLearning(ctx context.Context, question, domain string, result EnforceResult) {
	if r.mlc == nil {
		return
	}
	r.mlc.Observe(ctx, PatternObservation{
		Question:   question,
		Domain:     domain,
		Score:      1.0,
		Patterns:   []string{question},
		WasHelpful: true,
		Timestamp:  r.nowFunc(),
	})
}

// maybeCollapse triggers MLC's on-threshold pattern collapse every
// collapseEveryTurns turns (§2 Background loops).
func (r *Router) maybeCollapse(ctx context.Context) {
	if r.mlc == nil || r.collapseEveryTurns <= 0 {
		return
	}
	n := r.turnCount.Add(1)
	if n%r.collapseEveryTurns == 0 {
		r.mlc.Collapse(ctx)
	}
}

// RunDailyPrune starts SMM's daily prune/decay loop, blocking until ctx is
// cancelled (§2 Background loops: SMM prune, daily).
func (r *Router) RunDailyPrune(ctx context.Context, pruneDays int) {
	if r.smm == nil {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.smm.ApplyTemporalDecay(ctx); err != nil {
				r.logger.Warn("router: smm temporal decay failed", "error", err)
			}
			if _, err := r.smm.PruneOldConversations(ctx, pruneDays); err != nil {
				r.logger.Warn("router: smm prune failed", "error", err)
			}
			if r.selfHealing != nil {
				if err := r.selfHealing.ApplyTemporalDecay(ctx); err != nil {
					r.logger.Warn("router: self-healing decay failed", "error", err)
				}
			}
		}
	}
}
