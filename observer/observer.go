// Package observer provides OTEL-based observability for the veritas memory
// pipeline.
//
// It exposes the Self-Optimizing layer's five tracked metrics
// (override_rate, conflict_rate, accuracy, domain_quality, memory_hit_rate)
// as OTEL instruments, plus counters for facts written, conflicts resolved,
// and adjustment outcomes, and a Tracer (tracer.go) implementing
// veritas.Tracer for per-layer spans. Users export to any OTEL-compatible
// backend by setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/veritas/observer"

// Instruments holds all OTEL instruments emitted by the memory pipeline.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// Self-Optimizing's five tracked metrics (§4.11), recorded as
	// histograms so both the raw samples and their rolling average are
	// visible to a dashboard.
	OverrideRate  metric.Float64Histogram
	ConflictRate  metric.Float64Histogram
	Accuracy      metric.Float64Histogram
	DomainQuality metric.Float64Histogram
	MemoryHitRate metric.Float64Histogram

	// Pipeline throughput counters.
	FactsWritten     metric.Int64Counter
	ConflictsHandled metric.Int64Counter
	Overrides        metric.Int64Counter

	// Self-Optimizing adjustment outcomes (ANCHORED / REVERTED / PENDING).
	AdjustmentsProposed metric.Int64Counter
	AdjustmentsAnchored metric.Int64Counter
	AdjustmentsReverted metric.Int64Counter

	// Per-turn and per-layer durations.
	TurnDuration    metric.Float64Histogram
	RetrievalLatency metric.Float64Histogram
	EnforceLatency  metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP
// exporters. Configuration comes from standard OTEL env vars
// (OTEL_EXPORTER_OTLP_ENDPOINT, etc.). Returns a shutdown function that must
// be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("veritas")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	overrideRate, err := meter.Float64Histogram("veritas.override_rate",
		metric.WithDescription("Fraction of turns where AME overrode the draft reply"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	conflictRate, err := meter.Float64Histogram("veritas.conflict_rate",
		metric.WithDescription("Conflicts detected per 100 facts written"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	accuracy, err := meter.Float64Histogram("veritas.accuracy",
		metric.WithDescription("Fraction of AME contradiction checks judged correct"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	domainQuality, err := meter.Float64Histogram("veritas.domain_quality",
		metric.WithDescription("DDE domain classification confidence"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}
	memoryHitRate, err := meter.Float64Histogram("veritas.memory_hit_rate",
		metric.WithDescription("Fraction of turns where SMM retrieval returned a usable chunk"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	factsWritten, err := meter.Int64Counter("veritas.facts_written",
		metric.WithDescription("Canonical facts written by Self-Healing"),
		metric.WithUnit("{fact}"))
	if err != nil {
		return nil, err
	}
	conflictsHandled, err := meter.Int64Counter("veritas.conflicts_handled",
		metric.WithDescription("Conflicts resolved by MIR"),
		metric.WithUnit("{conflict}"))
	if err != nil {
		return nil, err
	}
	overrides, err := meter.Int64Counter("veritas.overrides",
		metric.WithDescription("Replies overridden by AME"),
		metric.WithUnit("{turn}"))
	if err != nil {
		return nil, err
	}

	adjProposed, err := meter.Int64Counter("veritas.adjustments.proposed",
		metric.WithDescription("Self-Optimizing adjustments proposed"),
		metric.WithUnit("{adjustment}"))
	if err != nil {
		return nil, err
	}
	adjAnchored, err := meter.Int64Counter("veritas.adjustments.anchored",
		metric.WithDescription("Self-Optimizing adjustments anchored"),
		metric.WithUnit("{adjustment}"))
	if err != nil {
		return nil, err
	}
	adjReverted, err := meter.Int64Counter("veritas.adjustments.reverted",
		metric.WithDescription("Self-Optimizing adjustments reverted"),
		metric.WithUnit("{adjustment}"))
	if err != nil {
		return nil, err
	}

	turnDuration, err := meter.Float64Histogram("veritas.turn.duration",
		metric.WithDescription("HandleChatTurn wall-clock duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	retrievalLatency, err := meter.Float64Histogram("veritas.retrieval.duration",
		metric.WithDescription("Per-call CMC query, SMM search, and DDE classify durations"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	enforceLatency, err := meter.Float64Histogram("veritas.enforce.duration",
		metric.WithDescription("AME enforcement duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:              tracer,
		Meter:                meter,
		Logger:               logger,
		OverrideRate:         overrideRate,
		ConflictRate:         conflictRate,
		Accuracy:             accuracy,
		DomainQuality:        domainQuality,
		MemoryHitRate:        memoryHitRate,
		FactsWritten:         factsWritten,
		ConflictsHandled:     conflictsHandled,
		Overrides:            overrides,
		AdjustmentsProposed:  adjProposed,
		AdjustmentsAnchored:  adjAnchored,
		AdjustmentsReverted:  adjReverted,
		TurnDuration:         turnDuration,
		RetrievalLatency:     retrievalLatency,
		EnforceLatency:       enforceLatency,
	}, nil
}
