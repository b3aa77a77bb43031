package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/verityengine/verity/pkg/cache"
	"github.com/verityengine/verity/pkg/domain"
	"github.com/verityengine/verity/pkg/engine/runtime"
	"github.com/verityengine/verity/pkg/schema"
	"github.com/verityengine/verity/pkg/telemetry"
)

// Execute runs the named pipeline against data. Steps execute strictly in
// declaration order; the pipeline's error strategy decides whether a failing
// step aborts the run or lets it continue. The caller's context deadline
// bounds the whole call: expiry aborts with the timeout sentinel and leaves
// the result cache untouched.
func (e *Engine) Execute(ctx context.Context, pipelineName string, data any, vctx domain.Context) (domain.ExecutionResult, error) {
	start := time.Now()

	def, err := e.registry.Get(pipelineName)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	tracer := otel.Tracer("verity.validation")
	ctx, span := tracer.Start(ctx, "pipeline.execute")
	span.SetAttributes(
		attribute.String("validation.kind", "pipeline"),
		attribute.String("validation.name", def.Name),
		attribute.String("pipeline.strategy", string(def.Strategy)),
		attribute.Int("pipeline.steps", len(def.Steps)),
	)
	defer span.End()

	// Resolve every step contract up front. Unknown contracts and missing
	// nested dependencies are configuration errors and must surface before
	// any data is processed.
	plan, pipelineHash, err := e.resolveSteps(ctx, def)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ExecutionResult{}, err
	}

	var key string
	if def.Cache.Enabled {
		if dataHash, hashErr := cache.DataHash(data); hashErr == nil {
			key = cache.Key(pipelineHash, dataHash, "pipeline:"+def.Name)
			if cached, ok := e.results.Get(key, pipelineHash); ok {
				span.SetAttributes(attribute.Bool("validation.cache_hit", true))
				e.finish(ctx, "pipeline", def.Name, string(def.Strategy), cached, true)
				return cached, nil
			}
		} else {
			e.logger.Debug("payload not hashable, skipping result cache",
				"pipeline", def.Name, "error", hashErr)
		}
	}

	run := &pipelineRun{
		def:  def,
		plan: plan,
		data: data,
		vctx: vctx,
	}
	if err := e.runSteps(ctx, tracer, run); err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			e.finishTimeout(ctx, "pipeline", def.Name, string(def.Strategy), start)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ExecutionResult{}, err
	}

	result := domain.ExecutionResult{
		Success:       len(run.violations) == 0,
		Violations:    run.violations,
		StepsExecuted: run.executed,
		Duration:      time.Since(start),
		ExecutionID:   uuid.NewString(),
		Timestamp:     start,
	}
	if result.Success {
		result.Data = run.data
	}

	if def.Cache.Enabled && key != "" {
		ttl := def.Cache.TTL
		if ttl <= 0 {
			ttl = e.defaultTTL
		}
		e.results.Put(key, result, ttl, pipelineHash)
	}

	telemetry.RecordViolationEvent(span, len(result.Violations), run.truncated)
	e.finish(ctx, "pipeline", def.Name, string(def.Strategy), result, false)
	return result, nil
}

// pipelineRun is the call-local state of one execution. Nothing in it is
// shared across calls.
type pipelineRun struct {
	def  domain.PipelineDefinition
	plan []*schema.CompiledContract
	data any
	vctx domain.Context

	executed   []string
	violations []domain.Violation
	truncated  bool
}

// resolveSteps compiles every step contract and returns the plan plus the
// combined structural hash identifying the pipeline's contract set.
func (e *Engine) resolveSteps(ctx context.Context, def domain.PipelineDefinition) ([]*schema.CompiledContract, string, error) {
	plan := make([]*schema.CompiledContract, len(def.Steps))
	hashes := make([]string, len(def.Steps))
	for i, step := range def.Steps {
		info, err := e.store.Info(ctx, step.Contract)
		if err != nil {
			return nil, "", err
		}
		if err := e.checkDependencies(ctx, info); err != nil {
			return nil, "", err
		}
		compiled, err := e.ResolveCompiled(ctx, step.Contract)
		if err != nil {
			return nil, "", err
		}
		plan[i] = compiled
		hashes[i] = compiled.Hash
	}
	return plan, schema.CombineHashes(hashes...), nil
}

// runSteps drives the step loop. It mutates only the run; the returned error
// is a timeout or another non-validation failure.
func (e *Engine) runSteps(ctx context.Context, tracer trace.Tracer, run *pipelineRun) error {
	if violations := schema.CheckSecurity(run.data, run.def.Security); len(violations) > 0 {
		run.violations = violations
		return nil
	}

	for i, step := range run.def.Steps {
		if err := deadlineErr(ctx, run.def.Name); err != nil {
			return err
		}

		stepStart := time.Now()
		stepCtx, stepSpan := tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
			attribute.String("step.name", step.Name),
			attribute.String("step.contract", step.Contract),
		))

		outcome, abort, err := e.runStep(stepCtx, run, step, run.plan[i])
		stepSpan.SetAttributes(attribute.String("step.outcome", string(outcome)))
		if err != nil {
			stepSpan.RecordError(err)
			stepSpan.SetStatus(codes.Error, err.Error())
			stepSpan.End()
			return err
		}
		stepSpan.End()

		telemetry.RecordStep(ctx, telemetry.StepMetrics{
			Pipeline: run.def.Name,
			Step:     step.Name,
			Contract: step.Contract,
			Outcome:  outcome,
			Duration: time.Since(stepStart),
		})

		if abort {
			break
		}
	}
	return nil
}

// runStep executes one step against the run's working payload. The abort
// return stops the loop; err aborts the whole call.
func (e *Engine) runStep(ctx context.Context, run *pipelineRun, step domain.PipelineStep, compiled *schema.CompiledContract) (runtime.StepOutcome, bool, error) {
	if step.Predicate != nil && !step.Predicate(run.data, run.vctx) {
		return runtime.OutcomeSkipped, false, nil
	}

	preStep := run.data
	working := run.data

	if step.Transform != nil {
		transformed, err := step.Transform(working)
		if err != nil {
			return runtime.OutcomeError, false, fmt.Errorf("pipeline %q step %q: transform: %w", run.def.Name, step.Name, err)
		}
		working = transformed
	}

	accepted, violations, err := compiled.Evaluate(ctx, working, e.env())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return runtime.OutcomeError, false, fmt.Errorf("%w: pipeline %q step %q", domain.ErrTimeout, run.def.Name, step.Name)
		}
		return runtime.OutcomeError, false, err
	}

	if len(violations) == 0 {
		run.executed = append(run.executed, step.Name)
		run.data = accepted
		return runtime.OutcomeSuccess, false, nil
	}

	if step.Recover != nil {
		if replacement, ok := step.Recover(violations, working, run.vctx); ok {
			run.executed = append(run.executed, step.Name)
			run.data = replacement
			return runtime.OutcomeRecovered, false, nil
		}
	}

	switch run.def.Strategy {
	case domain.StrategyStrict:
		// First failure only; the failing step does not count as executed.
		run.violations = violations
		return runtime.OutcomeFailure, true, nil

	case domain.StrategyCollect:
		abort := run.accumulate(violations)
		if !step.ContinueOnError || abort {
			return runtime.OutcomeFailure, true, nil
		}
		run.executed = append(run.executed, step.Name)
		run.data = preStep
		return runtime.OutcomeFailure, false, nil

	default: // StrategyPermissive
		if abort := run.accumulate(violations); abort {
			return runtime.OutcomeFailure, true, nil
		}
		run.executed = append(run.executed, step.Name)
		run.data = preStep
		return runtime.OutcomeFailure, false, nil
	}
}

// accumulate appends violations, enforcing the MaxViolations cutoff. It
// reports whether the cutoff forces termination.
func (run *pipelineRun) accumulate(violations []domain.Violation) bool {
	run.violations = append(run.violations, violations...)
	limit := run.def.MaxViolations
	if limit > 0 && len(run.violations) >= limit {
		if len(run.violations) > limit {
			run.violations = run.violations[:limit]
		}
		run.truncated = true
		return true
	}
	return false
}

func deadlineErr(ctx context.Context, pipeline string) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: pipeline %q", domain.ErrTimeout, pipeline)
	default:
		return err
	}
}
