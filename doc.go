// Package veritas is a layered conversational memory system that sits
// between a large language model and its end user.
//
// For every chat turn, HandleChatTurn decides whether the model's draft
// reply agrees with what the system has previously recorded as true; when
// it does not, the reply is rewritten from memory. Around that decision sit
// nine cooperating layers: a canonical fact store with adaptive schema
// growth (CMC), a semantic chunk memory with decay and pruning (SMM), a
// thin graph-store interface (GMM), a domain classifier (DDE), the
// contradiction enforcer that makes the override decision (AME), a
// cross-domain pattern learner (MLC), a conflict-resolving integrity
// regulator (MIR), a confidence adjuster (MCA), and a fact-dependency
// causality engine (MCE). A self-healing layer turns raw observations into
// canonical truth; a self-optimizing layer tunes every other layer's
// parameters from measured outcomes.
//
// # Quick Start
//
// Construct each layer from a shared store and provider, wire them into a
// Router, then call HandleChatTurn once per conversational turn:
//
//	cmc := veritas.NewCMC(store, embedder)
//	smm := veritas.NewSMM(store, embedder)
//	gmm := veritas.NewGMM(veritas.NewInMemoryGraphStore())
//	dde := veritas.NewDDE(embedder)
//	ame := veritas.NewAME(provider)
//	mlc := veritas.NewMLC(store)
//	selfHealing := veritas.NewSelfHealing(store, store, veritas.NewMIR(), veritas.NewMCA(), veritas.NewMCE(store))
//	selfOptimizing := veritas.NewSelfOptimizing(store)
//	router := veritas.NewRouter(cmc, smm, gmm, dde, ame, mlc, selfHealing, selfOptimizing)
//
//	resp := router.HandleChatTurn(ctx, veritas.ChatTurnRequest{
//		UserMessage:    "What is my name?",
//		AssistantDraft: "I don't know your name.",
//		SessionID:      "session-1",
//	})
//
// # Core Interfaces
//
//   - [Provider] — LLM backend for AME's contradiction probe
//   - [EmbeddingProvider] — text-to-vector embedding for CMC/SMM/DDE
//   - [GraphStore] — optional concept/relation backend used by GMM
//   - [FactStore] / [ChunkStore] / [ObservationStore] — persistence
//
// # Included Implementations
//
// Storage: store/sqlite (brute-force cosine, pure-Go driver), store/postgres
// (pgvector HNSW). Observability: observer (OTEL traces/metrics/logs).
//
// See cmd/veritasd for a complete reference wiring.
package veritas
