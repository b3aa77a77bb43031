package domain

import "time"

// ErrorStrategy selects how a pipeline reacts to step violations.
type ErrorStrategy string

const (
	// StrategyStrict aborts on the first failing step and returns exactly
	// that step's violations.
	StrategyStrict ErrorStrategy = "strict"
	// StrategyCollect accumulates violations; a failing step aborts the run
	// unless it is marked ContinueOnError.
	StrategyCollect ErrorStrategy = "collect"
	// StrategyPermissive accumulates violations and never aborts early,
	// regardless of per-step flags. The MaxViolations cutoff still applies.
	StrategyPermissive ErrorStrategy = "permissive"
)

// Transform rewrites the working payload before a step validates it.
type Transform func(data any) (any, error)

// RecoveryHook is invoked when a step's validation fails. Returning
// (replacement, true) substitutes the working payload and the pipeline
// continues; returning (_, false) propagates the violations according to the
// pipeline's error strategy.
type RecoveryHook func(violations []Violation, data any, ctx Context) (any, bool)

// PipelineStep is one ordered stage of a pipeline. Steps execute strictly in
// declaration order; a step whose predicate returns false is skipped and is
// not recorded as executed.
type PipelineStep struct {
	Name            string
	Predicate       Predicate
	Contract        string
	Transform       Transform
	Recover         RecoveryHook
	ContinueOnError bool
}

// CachePolicy controls result caching for a pipeline or single-contract call.
type CachePolicy struct {
	Enabled bool
	TTL     time.Duration
}

// SecurityPolicy bounds the payload before any validation runs. Zero values
// disable the corresponding check.
type SecurityPolicy struct {
	MaxDepth        int
	MaxStringLength int
}

// PipelineDefinition is the registered, effectively immutable description of
// a multi-step validation pipeline. MaxViolations, when positive, forces
// early termination once the accumulator reaches the limit, regardless of
// strategy.
type PipelineDefinition struct {
	Name          string
	Steps         []PipelineStep
	Strategy      ErrorStrategy
	Cache         CachePolicy
	Security      SecurityPolicy
	MaxViolations int
}
