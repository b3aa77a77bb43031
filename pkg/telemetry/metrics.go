package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/verityengine/verity/pkg/engine/runtime"
)

var (
	metricsOnce             sync.Once
	metricsInitErr          error
	executionCounter        metric.Int64Counter
	violationCounter        metric.Int64Counter
	timeoutCounter          metric.Int64Counter
	recoveryCounter         metric.Int64Counter
	executionLatencyHistory metric.Float64Histogram
	stepLatencyHistory      metric.Float64Histogram
)

// ExecutionMetrics captures the fields recorded once per validation or
// pipeline call.
type ExecutionMetrics struct {
	Name           string
	Kind           string // "contract" or "pipeline"
	Strategy       string
	Success        bool
	TimedOut       bool
	CacheHit       bool
	ViolationCount int
	Duration       time.Duration
}

// StepMetrics captures the fields recorded once per executed pipeline step.
type StepMetrics struct {
	Pipeline string
	Step     string
	Contract string
	Outcome  runtime.StepOutcome
	Duration time.Duration
}

// RecordExecution emits the per-call counters and latency histogram.
func RecordExecution(ctx context.Context, m ExecutionMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("validation.name", m.Name),
		attribute.String("validation.kind", m.Kind),
		attribute.Bool("validation.success", m.Success),
		attribute.Bool("validation.cache_hit", m.CacheHit),
	}
	if m.Strategy != "" {
		attrs = append(attrs, attribute.String("validation.strategy", m.Strategy))
	}

	executionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if m.ViolationCount > 0 {
		violationCounter.Add(ctx, int64(m.ViolationCount), metric.WithAttributes(attrs...))
	}
	if m.TimedOut {
		timeoutCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.Duration > 0 {
		executionLatencyHistory.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

// RecordStep emits per-step telemetry for pipeline runs.
func RecordStep(ctx context.Context, m StepMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("pipeline.name", m.Pipeline),
		attribute.String("step.name", m.Step),
		attribute.String("step.contract", m.Contract),
		attribute.String("step.outcome", string(m.Outcome)),
	}

	if m.Outcome == runtime.OutcomeRecovered {
		recoveryCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.Duration > 0 {
		stepLatencyHistory.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("verity.validation")

		executionCounter, metricsInitErr = meter.Int64Counter(
			"verity.validation.executions_total",
			metric.WithDescription("Validation and pipeline executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		violationCounter, metricsInitErr = meter.Int64Counter(
			"verity.validation.violations_total",
			metric.WithDescription("Violations produced by validation calls"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		timeoutCounter, metricsInitErr = meter.Int64Counter(
			"verity.validation.timeouts_total",
			metric.WithDescription("Calls aborted by an expired deadline"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		recoveryCounter, metricsInitErr = meter.Int64Counter(
			"verity.pipeline.recoveries_total",
			metric.WithDescription("Step failures absorbed by a recovery hook"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		executionLatencyHistory, metricsInitErr = meter.Float64Histogram(
			"verity.validation.duration_ms",
			metric.WithDescription("Observed end-to-end validation latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		stepLatencyHistory, metricsInitErr = meter.Float64Histogram(
			"verity.pipeline.step_duration_ms",
			metric.WithDescription("Observed per-step execution latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// RecordViolationEvent attaches a coarse violation summary to the span
// without leaking payload contents.
func RecordViolationEvent(span trace.Span, violations int, truncated bool) {
	if span == nil || !span.IsRecording() {
		return
	}

	span.AddEvent("validation.violations", trace.WithAttributes(
		attribute.Int("validation.violations.count", violations),
		attribute.Bool("validation.violations.truncated", truncated),
	))
}
