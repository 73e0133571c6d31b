// Package config loads veritas's configuration: in-code defaults,
// overridden by a TOML file, overridden by environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// CMCConfig holds CMC's adaptive schema and hard-cap parameters (§4.1, §6).
type CMCConfig struct {
	MaxTotalFacts            int     `toml:"max_total_facts"`
	MaxFactsPerDomain        int     `toml:"max_facts_per_domain"`
	MaxFactLength            int     `toml:"max_fact_length"`
	MinConfidence            float64 `toml:"min_confidence"`
	CreationThreshold        int     `toml:"creation_threshold"`
	MaxDynamicDomains        int     `toml:"max_dynamic_domains"`
	FuzzySimilarityThreshold float64 `toml:"fuzzy_similarity_threshold"`
}

// SMMConfig holds SMM's aging parameters (§4.2, §6).
type SMMConfig struct {
	PruneDays    int     `toml:"prune_days"`
	DecayRate    float64 `toml:"decay_rate"`
	MinRelevance float64 `toml:"min_relevance"`
}

// DDEConfig holds the domain engine's classification weights and cache
// size (§4.4).
type DDEConfig struct {
	ConfidenceThreshold  float64 `toml:"confidence_threshold"`
	ExemplarCacheSize    int     `toml:"exemplar_cache_size"`
	SemanticWeight       float64 `toml:"semantic_weight"`
	KeywordWeight        float64 `toml:"keyword_weight"`
	TransitionWeight     float64 `toml:"transition_weight"`
	MetaPriorWeight      float64 `toml:"meta_prior_weight"`
	EntropyWeight        float64 `toml:"entropy_weight"`
	MinTokensForEntropy  int     `toml:"min_tokens_for_entropy"`
}

// MLCConfig holds the meta-learning cortex's cross-domain threshold (§4.6).
type MLCConfig struct {
	CrossDomainThreshold int `toml:"cross_domain_threshold"`
}

// SelfHealingConfig holds Self-Healing's periodic decay schedule (§4.8,
// §4.10).
type SelfHealingConfig struct {
	TemporalDecayDays int `toml:"temporal_decay_days"`
}

// OptimizerConfig holds Self-Optimizing's cycle timing and per-adjustment
// bound (§4.11).
type OptimizerConfig struct {
	OptimizationCycleHours int     `toml:"optimization_cycle_hours"`
	EvaluationWindowHours  int     `toml:"evaluation_window_hours"`
	MaxAdjustmentFraction  float64 `toml:"max_adjustment_fraction"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // "sqlite" or "postgres"
	DSN    string `toml:"dsn"`
}

// LLMConfig configures the Provider used for AME's contradiction probe.
type LLMConfig struct {
	Model                 string  `toml:"model"`
	ProtectionTemperature float64 `toml:"protection_temperature"`
	ExplorationTemperature float64 `toml:"exploration_temperature"`
}

// EmbeddingConfig configures the EmbeddingProvider's fixed dimension.
type EmbeddingConfig struct {
	Dimensions int `toml:"dimensions"`
}

// Config is veritas's full configuration tree.
type Config struct {
	Store       StoreConfig       `toml:"store"`
	LLM         LLMConfig         `toml:"llm"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	CMC         CMCConfig         `toml:"cmc"`
	SMM         SMMConfig         `toml:"smm"`
	DDE         DDEConfig         `toml:"dde"`
	MLC         MLCConfig         `toml:"mlc"`
	SelfHealing SelfHealingConfig `toml:"self_healing"`
	Optimizer   OptimizerConfig   `toml:"optimizer"`
}

// Default returns the configuration with every default named in spec §4
// and §6.
func Default() Config {
	return Config{
		Store: StoreConfig{Driver: "sqlite", DSN: "veritas.db"},
		LLM: LLMConfig{
			Model:                  "default",
			ProtectionTemperature:  0.3,
			ExplorationTemperature: 0.8,
		},
		Embedding: EmbeddingConfig{Dimensions: 1536},
		CMC: CMCConfig{
			MaxTotalFacts:            1000,
			MaxFactsPerDomain:        100,
			MaxFactLength:            500,
			MinConfidence:            0.6,
			CreationThreshold:        3,
			MaxDynamicDomains:        50,
			FuzzySimilarityThreshold: 0.85,
		},
		SMM: SMMConfig{
			PruneDays:    30,
			DecayRate:    0.95,
			MinRelevance: 0.1,
		},
		DDE: DDEConfig{
			ConfidenceThreshold: 0.7,
			ExemplarCacheSize:   20,
			SemanticWeight:      0.40,
			KeywordWeight:       0.15,
			TransitionWeight:    0.20,
			MetaPriorWeight:     0.10,
			EntropyWeight:       0.15,
			MinTokensForEntropy: 10,
		},
		MLC: MLCConfig{CrossDomainThreshold: 3},
		SelfHealing: SelfHealingConfig{
			TemporalDecayDays: 90,
		},
		Optimizer: OptimizerConfig{
			OptimizationCycleHours: 1,
			EvaluationWindowHours:  24,
			MaxAdjustmentFraction:  0.20,
		},
	}
}

// Load builds a Config starting from Default(), then overlaying path (if
// non-empty and present) as TOML, then environment variables: defaults →
// file → env.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides overlays a small set of VERITAS_*-prefixed environment
// variables covering the store driver and DSN, the LLM model name, and the
// embedding dimensions.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VERITAS_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("VERITAS_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("VERITAS_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("VERITAS_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimensions = n
		}
	}
}
