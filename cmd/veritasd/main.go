// Command veritasd wires together a complete memory pipeline (CMC through
// Self-Optimizing, behind Router) over a local SQLite store and runs its
// background maintenance loops. It demonstrates how the pieces assemble;
// the LLM chat/embedding backends are non-goals of this module (see
// Provider and EmbeddingProvider in provider.go) so main supplies tiny
// deterministic stand-ins — replace both with real clients in production.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"log"
	"log/slog"
	"os"
	"os/signal"

	veritas "github.com/nevindra/veritas"
	"github.com/nevindra/veritas/config"
	"github.com/nevindra/veritas/observer"
	"github.com/nevindra/veritas/store/sqlite"
)

func main() {
	cfgPath := os.Getenv("VERITAS_CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	inst, shutdown, err := observer.Init(ctx)
	if err != nil {
		log.Fatalf("init observability: %v", err)
	}
	defer shutdown(ctx)
	tracer := observer.NewTracer()
	metrics := observer.NewMetricSink(inst)

	store := sqlite.New(cfg.Store.DSN, sqlite.WithLogger(logger))
	if err := store.Init(ctx); err != nil {
		log.Fatalf("init store: %v", err)
	}
	defer store.Close()

	embedder := hashEmbedder{dimensions: cfg.Embedding.Dimensions}
	provider := echoProvider{}

	cmc := veritas.NewCMC(store, embedder,
		veritas.WithCMCLogger(logger),
		veritas.WithCMCConfig(cfg.CMC),
	)
	smm := veritas.NewSMM(store, embedder,
		veritas.WithSMMLogger(logger),
		veritas.WithSMMConfig(cfg.SMM),
	)
	gmm := veritas.NewGMM(veritas.NewInMemoryGraphStore(), veritas.WithGMMLogger(logger))
	dde := veritas.NewDDE(embedder,
		veritas.WithDDELogger(logger),
		veritas.WithDDEConfig(cfg.DDE),
	)
	ame := veritas.NewAME(provider,
		veritas.WithAMELogger(logger),
		veritas.WithAMETracer(tracer),
		veritas.WithAMEMetricSink(metrics),
	)
	mlc := veritas.NewMLC(store,
		veritas.WithMLCLogger(logger),
		veritas.WithMLCConfig(cfg.MLC),
		veritas.WithMLCGraph(gmm),
	)
	mir := veritas.NewMIR(veritas.WithMIRLogger(logger))
	mca := veritas.NewMCA(veritas.WithMCALogger(logger))
	mce := veritas.NewMCE(store, veritas.WithMCELogger(logger))
	selfHealing := veritas.NewSelfHealing(store, store, mir, mca, mce,
		veritas.WithSelfHealingLogger(logger),
		veritas.WithSelfHealingMetricSink(metrics),
	)
	selfOptimizing := veritas.NewSelfOptimizing(store,
		veritas.WithSelfOptimizingLogger(logger),
		veritas.WithSelfOptimizingConfig(cfg.Optimizer),
		veritas.WithSelfOptimizingMetricSink(metrics),
	)

	router := veritas.NewRouter(cmc, smm, gmm, dde, ame, mlc, selfHealing, selfOptimizing,
		veritas.WithRouterLogger(logger),
		veritas.WithRouterTracer(tracer),
		veritas.WithRouterMetricSink(metrics),
	)

	go router.RunDailyPrune(ctx, cfg.SMM.PruneDays)
	go selfOptimizing.Run(ctx)

	resp := router.HandleChatTurn(ctx, veritas.ChatTurnRequest{
		UserMessage:      "My favorite color is blue.",
		SessionID:        "demo-session",
		StoreInteraction: true,
	})
	logger.Info("handled turn", "reply", resp.FinalReply, "domain", resp.Metadata.Domain, "overridden", resp.WasOverridden)

	<-ctx.Done()
}

// hashEmbedder is a deterministic, dependency-free stand-in for a real
// embedding backend: it hashes each text into a fixed-size pseudo-vector.
// Cosine similarity over hash embeddings is meaningless beyond exact-text
// matches; swap in a real EmbeddingProvider before relying on retrieval
// quality.
type hashEmbedder struct {
	dimensions int
}

func (h hashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, h.dimensions)
	}
	return out, nil
}

func (h hashEmbedder) Dimensions() int { return h.dimensions }
func (h hashEmbedder) Name() string    { return "hash-embedder" }

func hashVector(text string, dims int) []float32 {
	if dims <= 0 {
		dims = 8
	}
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, dims)
	for i := range v {
		start := (i * 4) % len(sum)
		end := start + 4
		if end > len(sum) {
			start = len(sum) - 4
			end = len(sum)
		}
		v[i] = float32(binary.BigEndian.Uint32(sum[start:end])) / float32(1<<32)
	}
	return v
}

// echoProvider is a placeholder Provider that echoes the latest user message
// back as its reply. Replace with a real LLM client.
type echoProvider struct{}

func (echoProvider) Chat(ctx context.Context, req veritas.ChatRequest) (veritas.ChatResponse, error) {
	if len(req.Messages) == 0 {
		return veritas.ChatResponse{}, nil
	}
	return veritas.ChatResponse{Content: req.Messages[len(req.Messages)-1].Content}, nil
}

func (echoProvider) Name() string { return "echo" }
