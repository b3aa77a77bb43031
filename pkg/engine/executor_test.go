package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verityengine/verity/pkg/domain"
)

// newTestEngine registers the two fixture contracts every pipeline test
// leans on: "anything" accepts all payloads, "must-be-string" rejects
// anything that is not a string.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng := New(Config{})
	ctx := context.Background()

	_, err := eng.RegisterContract(ctx, &domain.Contract{
		Name:   "anything",
		Schema: &domain.Schema{Kind: domain.SchemaLeaf, Type: domain.LeafAny},
	})
	require.NoError(t, err)

	_, err = eng.RegisterContract(ctx, &domain.Contract{
		Name:   "must-be-string",
		Schema: &domain.Schema{Kind: domain.SchemaLeaf, Type: domain.LeafString},
	})
	require.NoError(t, err)

	return eng
}

// threeSteps builds the canonical fixture: step2 always violates against a
// map payload because it demands a string.
func threeSteps(continueOnError bool) []domain.PipelineStep {
	return []domain.PipelineStep{
		{Name: "step1", Contract: "anything"},
		{Name: "step2", Contract: "must-be-string", ContinueOnError: continueOnError},
		{Name: "step3", Contract: "anything"},
	}
}

func TestStrictReturnsFirstFailureOnly(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name:     "p",
		Steps:    threeSteps(false),
		Strategy: domain.StrategyStrict,
	}))

	result, err := eng.Execute(context.Background(), "p", map[string]any{"k": "v"}, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, domain.CodeInvalidType, result.Violations[0].Code)
	assert.Equal(t, []string{"step1"}, result.StepsExecuted)
}

func TestCollectAbortsWithoutContinueFlag(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name:     "p",
		Steps:    threeSteps(false),
		Strategy: domain.StrategyCollect,
	}))

	result, err := eng.Execute(context.Background(), "p", map[string]any{"k": "v"}, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Len(t, result.Violations, 1)
	assert.Equal(t, []string{"step1"}, result.StepsExecuted)
}

func TestCollectContinuesPastFlaggedStep(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name:     "p",
		Steps:    threeSteps(true),
		Strategy: domain.StrategyCollect,
	}))

	result, err := eng.Execute(context.Background(), "p", map[string]any{"k": "v"}, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Len(t, result.Violations, 1)
	assert.Equal(t, []string{"step1", "step2", "step3"}, result.StepsExecuted,
		"collect with continueOnError executes all steps")
}

func TestPermissiveNeverAbortsEarly(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name:     "p",
		Steps:    threeSteps(false),
		Strategy: domain.StrategyPermissive,
	}))

	result, err := eng.Execute(context.Background(), "p", map[string]any{"k": "v"}, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Len(t, result.Violations, 1)
	assert.Equal(t, []string{"step1", "step2", "step3"}, result.StepsExecuted,
		"permissive ignores continueOnError and runs everything")
}

func TestMaxViolationsCutoff(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name: "p",
		Steps: []domain.PipelineStep{
			{Name: "s1", Contract: "must-be-string", ContinueOnError: true},
			{Name: "s2", Contract: "must-be-string", ContinueOnError: true},
			{Name: "s3", Contract: "must-be-string", ContinueOnError: true},
		},
		Strategy:      domain.StrategyPermissive,
		MaxViolations: 2,
	}))

	result, err := eng.Execute(context.Background(), "p", map[string]any{"k": "v"}, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Len(t, result.Violations, 2, "the cutoff bounds the accumulator regardless of strategy")
	assert.Equal(t, []string{"s1"}, result.StepsExecuted, "the run stops at the cutoff")
}

func TestPredicateSkipsStep(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name: "p",
		Steps: []domain.PipelineStep{
			{Name: "always", Contract: "anything"},
			{
				Name:      "conditional",
				Contract:  "must-be-string",
				Predicate: func(_ any, vctx domain.Context) bool { return vctx["strict"] == true },
			},
		},
		Strategy: domain.StrategyStrict,
	}))

	result, err := eng.Execute(context.Background(), "p", map[string]any{"k": "v"}, domain.Context{"strict": false})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"always"}, result.StepsExecuted, "skipped steps never appear in the executed list")

	result, err = eng.Execute(context.Background(), "p", map[string]any{"k": "v"}, domain.Context{"strict": true})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestTransformFeedsValidation(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name: "p",
		Steps: []domain.PipelineStep{
			{
				Name:     "stringify",
				Contract: "must-be-string",
				Transform: func(data any) (any, error) {
					payload := data.(map[string]any)
					return payload["k"].(string), nil
				},
			},
		},
		Strategy: domain.StrategyStrict,
	}))

	result, err := eng.Execute(context.Background(), "p", map[string]any{"k": "v"}, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "v", result.Data, "the transformed, accepted value is the pipeline output")
}

func TestTransformErrorIsFatal(t *testing.T) {
	eng := newTestEngine(t)
	boom := errors.New("boom")
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name: "p",
		Steps: []domain.PipelineStep{
			{Name: "explode", Contract: "anything", Transform: func(any) (any, error) { return nil, boom }},
		},
		Strategy: domain.StrategyPermissive,
	}))

	_, err := eng.Execute(context.Background(), "p", map[string]any{}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestRecoveryHookSubstitutesPayload(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name: "p",
		Steps: []domain.PipelineStep{
			{
				Name:     "recoverable",
				Contract: "must-be-string",
				Recover: func(violations []domain.Violation, _ any, _ domain.Context) (any, bool) {
					return "fallback", len(violations) > 0
				},
			},
			{Name: "downstream", Contract: "must-be-string"},
		},
		Strategy: domain.StrategyStrict,
	}))

	result, err := eng.Execute(context.Background(), "p", map[string]any{"k": "v"}, nil)
	require.NoError(t, err)

	assert.True(t, result.Success, "recovery absorbs the violations")
	assert.Equal(t, []string{"recoverable", "downstream"}, result.StepsExecuted)
	assert.Equal(t, "fallback", result.Data)
}

func TestRecoveryDecliningPropagatesStrategy(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name: "p",
		Steps: []domain.PipelineStep{
			{
				Name:     "stubborn",
				Contract: "must-be-string",
				Recover:  func([]domain.Violation, any, domain.Context) (any, bool) { return nil, false },
			},
		},
		Strategy: domain.StrategyStrict,
	}))

	result, err := eng.Execute(context.Background(), "p", map[string]any{"k": "v"}, nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Len(t, result.Violations, 1)
}

func TestCollectRevertsToPreStepData(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name: "p",
		Steps: []domain.PipelineStep{
			{
				Name:            "mutating-failure",
				Contract:        "must-be-string",
				ContinueOnError: true,
				Transform:       func(any) (any, error) { return map[string]any{"mutated": true}, nil },
			},
			{Name: "tail", Contract: "anything"},
		},
		Strategy: domain.StrategyCollect,
	}))

	original := map[string]any{"k": "v"}
	result, err := eng.Execute(context.Background(), "p", original, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, []string{"mutating-failure", "tail"}, result.StepsExecuted)
}

func TestUnknownPipelineIsFatal(t *testing.T) {
	eng := newTestEngine(t)
	_, err := eng.Execute(context.Background(), "ghost", nil, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownPipeline)
}

func TestUnknownStepContractSurfacesBeforeExecution(t *testing.T) {
	eng := newTestEngine(t)
	ran := false
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name: "p",
		Steps: []domain.PipelineStep{
			{
				Name:      "first",
				Contract:  "anything",
				Transform: func(data any) (any, error) { ran = true; return data, nil },
			},
			{Name: "broken", Contract: "unregistered"},
		},
		Strategy: domain.StrategyStrict,
	}))

	_, err := eng.Execute(context.Background(), "p", map[string]any{}, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownContract)
	assert.False(t, ran, "no data is processed when resolution fails")
}

func TestMissingNestedDependencyIsFatal(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	_, err := eng.RegisterContract(ctx, &domain.Contract{
		Name: "parent",
		Schema: &domain.Schema{
			Kind:   domain.SchemaObject,
			Fields: map[string]*domain.Schema{"child": {Kind: domain.SchemaRef, Ref: "nested"}},
		},
	})
	require.NoError(t, err)

	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name:     "p",
		Steps:    []domain.PipelineStep{{Name: "s", Contract: "parent"}},
		Strategy: domain.StrategyStrict,
	}))

	_, err = eng.Execute(ctx, "p", map[string]any{}, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownContract)
}

func TestSecurityPolicyRunsBeforeSteps(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name:     "p",
		Steps:    threeSteps(false),
		Strategy: domain.StrategyStrict,
		Security: domain.SecurityPolicy{MaxStringLength: 4},
	}))

	result, err := eng.Execute(context.Background(), "p", map[string]any{"k": "way too long"}, nil)
	require.NoError(t, err)

	assert.False(t, result.Success)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, domain.CodeMaxStringLength, result.Violations[0].Code)
	assert.Empty(t, result.StepsExecuted, "no step runs against an abusive payload")
}

func TestTimeoutAbortsAndLeavesCacheClean(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name:     "p",
		Steps:    threeSteps(false),
		Strategy: domain.StrategyStrict,
		Cache:    domain.CachePolicy{Enabled: true, TTL: time.Minute},
	}))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := eng.Execute(ctx, "p", map[string]any{"k": "v"}, nil)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Zero(t, eng.results.Len(), "a timed-out call must not poison the result cache")
}

func TestPipelineResultCacheRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.RegisterPipeline(domain.PipelineDefinition{
		Name:     "p",
		Steps:    threeSteps(false),
		Strategy: domain.StrategyStrict,
		Cache:    domain.CachePolicy{Enabled: true, TTL: time.Minute},
	}))
	payload := map[string]any{"k": "v"}

	first, err := eng.Execute(context.Background(), "p", payload, nil)
	require.NoError(t, err)

	second, err := eng.Execute(context.Background(), "p", payload, nil)
	require.NoError(t, err)

	assert.Equal(t, first, second, "the cached outcome is replayed verbatim")
	assert.Equal(t, uint64(1), eng.Statistics()["result"].Hits)
}
