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

	"github.com/verityengine/verity/pkg/cache"
	"github.com/verityengine/verity/pkg/domain"
	"github.com/verityengine/verity/pkg/schema"
	"github.com/verityengine/verity/pkg/telemetry"
)

// ValidateOptions tunes a single-contract validation call.
type ValidateOptions struct {
	Cache domain.CachePolicy
}

// Validate checks data against the named contract. Violations come back as
// data inside the result; the error return is reserved for configuration
// failures and timeouts. With caching enabled, a fresh outcome is stored
// under hash(contractHash, dataHash, namespace) and replayed until its TTL
// lapses.
func (e *Engine) Validate(ctx context.Context, name string, data any, opts ValidateOptions) (domain.ExecutionResult, error) {
	start := time.Now()

	tracer := otel.Tracer("verity.validation")
	ctx, span := tracer.Start(ctx, "validation.validate")
	span.SetAttributes(
		attribute.String("validation.kind", "contract"),
		attribute.String("validation.name", name),
	)
	defer span.End()

	contract, info, err := e.store.Get(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ExecutionResult{}, err
	}
	if err := e.checkDependencies(ctx, info); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ExecutionResult{}, err
	}

	var key string
	if opts.Cache.Enabled {
		if dataHash, hashErr := cache.DataHash(data); hashErr == nil {
			key = cache.Key(info.Hash, dataHash, "contract:"+name)
			if cached, ok := e.results.Get(key, info.Hash); ok {
				span.SetAttributes(attribute.Bool("validation.cache_hit", true))
				e.finish(ctx, "contract", name, "", cached, true)
				return cached, nil
			}
		} else {
			e.logger.Debug("payload not hashable, skipping result cache", "contract", name, "error", hashErr)
		}
	}

	compiled, _, err := e.compiled.GetOrCompile(info.Hash, func() (*schema.CompiledContract, error) {
		return schema.Compile(contract)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ExecutionResult{}, err
	}

	result, err := e.runCompiled(ctx, name, compiled, data)
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			e.finishTimeout(ctx, "contract", name, "", start)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.ExecutionResult{}, err
	}

	result.Duration = time.Since(start)
	result.ExecutionID = uuid.NewString()
	result.Timestamp = start

	if opts.Cache.Enabled && key != "" {
		ttl := opts.Cache.TTL
		if ttl <= 0 {
			ttl = e.defaultTTL
		}
		e.results.Put(key, result, ttl, info.Hash)
	}

	telemetry.RecordViolationEvent(span, len(result.Violations), false)
	e.finish(ctx, "contract", name, "", result, false)
	return result, nil
}

// runCompiled evaluates a compiled contract, mapping deadline expiry to the
// timeout sentinel.
func (e *Engine) runCompiled(ctx context.Context, name string, compiled *schema.CompiledContract, data any) (domain.ExecutionResult, error) {
	accepted, violations, err := compiled.Evaluate(ctx, data, e.env())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ExecutionResult{}, fmt.Errorf("%w: contract %q", domain.ErrTimeout, name)
		}
		return domain.ExecutionResult{}, err
	}

	result := domain.ExecutionResult{
		Success:    len(violations) == 0,
		Violations: violations,
	}
	if result.Success {
		result.Data = accepted
	}
	return result, nil
}

// finishTimeout counts a call aborted by an expired deadline. Timed-out calls
// return no result and write no cache entry, but the timeout counter and the
// audit trail still record them.
func (e *Engine) finishTimeout(ctx context.Context, kind, name, strategy string, start time.Time) {
	duration := time.Since(start)
	telemetry.RecordExecution(ctx, telemetry.ExecutionMetrics{
		Name:     name,
		Kind:     kind,
		Strategy: strategy,
		TimedOut: true,
		Duration: duration,
	})
	e.audit.Emit(ctx, domain.AuditEvent{
		Name:      name,
		Kind:      kind,
		Duration:  duration,
		Timestamp: start,
	})
}

// finish emits the per-call telemetry and the audit event.
func (e *Engine) finish(ctx context.Context, kind, name, strategy string, result domain.ExecutionResult, cacheHit bool) {
	telemetry.RecordExecution(ctx, telemetry.ExecutionMetrics{
		Name:           name,
		Kind:           kind,
		Strategy:       strategy,
		Success:        result.Success,
		CacheHit:       cacheHit,
		ViolationCount: len(result.Violations),
		Duration:       result.Duration,
	})
	e.audit.Emit(ctx, domain.AuditEvent{
		Name:           name,
		Kind:           kind,
		Success:        result.Success,
		Duration:       result.Duration,
		ViolationCount: len(result.Violations),
		ExecutionID:    result.ExecutionID,
		Timestamp:      result.Timestamp,
	})
}
