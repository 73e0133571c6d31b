package veritas

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nevindra/veritas/config"
)

// metricDirection records whether a metric degrades by going above or
// below its threshold (§4.11 metrics table).
type metricDirection int

const (
	degradesAbove metricDirection = iota
	degradesBelow
)

var metricThresholds = map[MetricName]struct {
	threshold float64
	direction metricDirection
	parameter string // the tunable parameter adjusted when this metric degrades
}{
	MetricOverrideRate:  {0.30, degradesAbove, "ameOverrideStrength"},
	MetricConflictRate:  {5.0, degradesAbove, "promotionThreshold"},
	MetricAccuracy:      {0.70, degradesBelow, "ameOverrideStrength"},
	MetricDomainQuality: {0.80, degradesBelow, "ddeDomainWeight"},
	MetricMemoryHitRate: {0.50, degradesBelow, "smmDecayRate"},
}

// defaultParameters seeds the Self-Optimizing parameter snapshot with the
// starting values every other layer reads at init (§4.11 Tunable
// parameters).
func defaultParameters() map[string]float64 {
	return map[string]float64{
		"promotionThreshold":  0.7,
		"temporalDecayDays":   90,
		"ameOverrideStrength": 1.0,
		"smmDecayRate":        0.95,
		"ddeDomainWeight":     0.40,
	}
}

// ParameterSubscriber is notified when an Adjustment is anchored, so
// sync-point propagation (e.g. promotionThreshold → Self-Healing) happens
// without Self-Optimizing knowing the subscriber's internals (§4.11 step 3).
type ParameterSubscriber func(parameter string, value float64)

// SelfOptimizingOption configures a SelfOptimizing.
type SelfOptimizingOption func(*SelfOptimizing)

// WithSelfOptimizingLogger sets a structured logger; unset means discard.
func WithSelfOptimizingLogger(l *slog.Logger) SelfOptimizingOption {
	return func(s *SelfOptimizing) { s.logger = l }
}

// WithSelfOptimizingConfig overrides the default OptimizerConfig.
func WithSelfOptimizingConfig(cfg config.OptimizerConfig) SelfOptimizingOption {
	return func(s *SelfOptimizing) { s.cfg = cfg }
}

// WithSelfOptimizingClock overrides the time source, for deterministic
// tests.
func WithSelfOptimizingClock(nowFunc func() int64) SelfOptimizingOption {
	return func(s *SelfOptimizing) { s.nowFunc = nowFunc }
}

// WithParameterSubscriber registers a subscriber notified on every anchored
// Adjustment.
func WithParameterSubscriber(sub ParameterSubscriber) SelfOptimizingOption {
	return func(s *SelfOptimizing) { s.subscribers = append(s.subscribers, sub) }
}

// WithSelfOptimizingMetricSink wires a MetricSink that receives every
// recorded metric sample and adjustment-lifecycle event (§4.11,
// SPEC_FULL.md DOMAIN STACK: the OTEL observer wraps SystemObserver).
func WithSelfOptimizingMetricSink(sink MetricSink) SelfOptimizingOption {
	return func(s *SelfOptimizing) { s.sink = sink }
}

// SelfOptimizing is the Self-Optimizing layer: SystemObserver (metric
// ingestion), MetaEvaluator (adjustment proposals), ParameterAdapter
// (application + sync-points), and EffectivenessTracker (anchor/revert)
// (§4.11).
type SelfOptimizing struct {
	store   OptimizerStore
	cfg     config.OptimizerConfig
	logger  *slog.Logger
	sink    MetricSink
	nowFunc func() int64

	subscribers []ParameterSubscriber

	mu     sync.RWMutex
	params map[string]float64
}

// NewSelfOptimizing constructs a SelfOptimizing layer seeded with the
// default parameter snapshot.
func NewSelfOptimizing(store OptimizerStore, opts ...SelfOptimizingOption) *SelfOptimizing {
	s := &SelfOptimizing{
		store:   store,
		cfg:     config.Default().Optimizer,
		logger:  nopLogger,
		nowFunc: NowUnix,
		params:  defaultParameters(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Parameter returns a consistent snapshot read of one tunable parameter
// (§5: readers see a consistent snapshot; writers publish atomically).
func (s *SelfOptimizing) Parameter(name string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.params[name]
	return v, ok
}

// RecordMetric ingests one sample into the rolling metric history
// (SystemObserver), and mirrors it to the configured MetricSink so an
// observability backend sees it as it happens rather than only on the next
// hourly cycle's aggregate.
func (s *SelfOptimizing) RecordMetric(ctx context.Context, name MetricName, value float64) error {
	m := Metric{Name: name, Value: value, Timestamp: s.nowFunc()}
	if err := s.store.RecordMetric(ctx, m); err != nil {
		return &BackendUnavailableError{Backend: "optimizer_store", Err: err}
	}
	if s.sink != nil {
		s.sink.ObserveMetric(string(name), value)
	}
	return nil
}

// RunCycle executes one hourly Self-Optimizing cycle (§4.11):
//  1. evaluate any previously PENDING adjustment whose evaluation window
//     has elapsed, anchoring or reverting it,
//  2. snapshot current metrics as baseline,
//  3. propose adjustments (max ±20% per parameter) for metrics outside
//     their threshold,
//  4. apply them and persist as PENDING.
func (s *SelfOptimizing) RunCycle(ctx context.Context) error {
	now := s.nowFunc()
	windowStart := now - int64(s.cfg.OptimizationCycleHours)*3600

	if err := s.evaluatePending(ctx, now); err != nil {
		return err
	}

	for name, rule := range metricThresholds {
		samples, err := s.store.RecentMetrics(ctx, name, windowStart)
		if err != nil {
			return &BackendUnavailableError{Backend: "optimizer_store", Err: err}
		}
		if len(samples) == 0 {
			continue
		}
		avg := averageMetric(samples)
		if !degraded(avg, rule.threshold, rule.direction) {
			continue
		}
		if err := s.proposeAndApply(ctx, rule.parameter, name, avg, rule.threshold, now); err != nil {
			s.logger.Warn("self-optimizing: propose adjustment failed", "parameter", rule.parameter, "error", err)
		}
	}
	return nil
}

func averageMetric(samples []Metric) float64 {
	var sum float64
	for _, m := range samples {
		sum += m.Value
	}
	return sum / float64(len(samples))
}

func degraded(value, threshold float64, dir metricDirection) bool {
	if dir == degradesAbove {
		return value > threshold
	}
	return value < threshold
}

// proposeAndApply computes a bounded adjustment (at most
// maxAdjustmentFraction of the current value) nudging parameter toward
// correcting metric, applies it immediately, and persists it PENDING for
// evaluation after evaluationWindowHours (§4.11 steps 2-3).
func (s *SelfOptimizing) proposeAndApply(ctx context.Context, parameter string, metric MetricName, value, threshold float64, now int64) error {
	s.mu.Lock()
	old, ok := s.params[parameter]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown parameter %q", parameter)
	}

	direction := 1.0
	if value > threshold {
		direction = -1.0 // metric too high: pull the parameter down
	}
	delta := old * s.cfg.MaxAdjustmentFraction * direction
	newValue := old + delta

	s.params[parameter] = newValue
	s.mu.Unlock()

	for _, sub := range s.subscribers {
		sub(parameter, newValue)
	}

	adj := Adjustment{
		ID:            NewID(),
		Parameter:     parameter,
		OldValue:      old,
		NewValue:      newValue,
		Reason:        fmt.Sprintf("%s degraded: %.4f vs threshold %.4f", metric, value, threshold),
		BaselineStats: map[MetricName]float64{metric: value},
		Result:        AdjustmentPending,
		ProposedAt:    now,
		EvaluateAfter: now + int64(s.cfg.EvaluationWindowHours)*3600,
	}
	if err := s.store.SaveAdjustment(ctx, adj); err != nil {
		return &BackendUnavailableError{Backend: "optimizer_store", Err: err}
	}
	s.logger.Info("self-optimizing: adjustment proposed", "parameter", parameter, "old", old, "new", newValue)
	if s.sink != nil {
		s.sink.ObserveEvent("adjustments_proposed")
	}
	return nil
}

// evaluatePending settles every Adjustment whose evaluation window has
// elapsed: >5% better than baseline → ANCHOR, >5% worse → REVERT, within
// ±5% → leave PENDING for another cycle (§4.11 step 4, §7
// OPTIMIZATION_INCONCLUSIVE).
func (s *SelfOptimizing) evaluatePending(ctx context.Context, now int64) error {
	pending, err := s.store.PendingAdjustments(ctx)
	if err != nil {
		return &BackendUnavailableError{Backend: "optimizer_store", Err: err}
	}

	for _, adj := range pending {
		if now < adj.EvaluateAfter {
			continue
		}
		var metric MetricName
		var baseline float64
		for m, v := range adj.BaselineStats {
			metric, baseline = m, v
		}
		samples, err := s.store.RecentMetrics(ctx, metric, adj.ProposedAt)
		if err != nil {
			return &BackendUnavailableError{Backend: "optimizer_store", Err: err}
		}
		if len(samples) == 0 {
			continue
		}
		post := averageMetric(samples)

		rule := metricThresholds[metric]
		improvement := relativeImprovement(baseline, post, rule.direction)

		var result AdjustmentResult
		switch {
		case improvement > 0.05:
			result = AdjustmentAnchored
		case improvement < -0.05:
			result = AdjustmentReverted
			s.revert(adj)
		default:
			// Safety rule (§4.11): every adjustment must end ANCHORED or
			// REVERTED within 2×evaluationWindowHours; a still-inconclusive
			// adjustment gets one more window before forcing a decision.
			if now-adj.ProposedAt > 2*int64(s.cfg.EvaluationWindowHours)*3600 {
				result = AdjustmentReverted
				s.revert(adj)
			} else {
				continue
			}
		}

		if err := s.store.UpdateAdjustmentResult(ctx, adj.ID, result); err != nil {
			return &BackendUnavailableError{Backend: "optimizer_store", Err: err}
		}
		s.logger.Info("self-optimizing: adjustment settled", "parameter", adj.Parameter, "result", result)
		if s.sink != nil {
			switch result {
			case AdjustmentAnchored:
				s.sink.ObserveEvent("adjustments_anchored")
			case AdjustmentReverted:
				s.sink.ObserveEvent("adjustments_reverted")
			}
		}
	}
	return nil
}

// relativeImprovement is positive when post is better than baseline for a
// metric whose degradation direction is dir.
func relativeImprovement(baseline, post float64, dir metricDirection) float64 {
	if baseline == 0 {
		return 0
	}
	change := (post - baseline) / baseline
	if dir == degradesAbove {
		return -change // lower is better
	}
	return change // higher is better
}

func (s *SelfOptimizing) revert(adj Adjustment) {
	s.mu.Lock()
	s.params[adj.Parameter] = adj.OldValue
	s.mu.Unlock()
	for _, sub := range s.subscribers {
		sub(adj.Parameter, adj.OldValue)
	}
}

// Run starts the hourly cycle loop, blocking until ctx is cancelled.
func (s *SelfOptimizing) Run(ctx context.Context) {
	s.logger.Info("self-optimizing: cycle loop started")
	interval := time.Duration(s.cfg.OptimizationCycleHours) * time.Hour
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("self-optimizing: cycle loop stopped")
			return
		case <-ticker.C:
			if err := s.RunCycle(ctx); err != nil {
				s.logger.Warn("self-optimizing: cycle failed", "error", err)
			}
		}
	}
}
