// Package runtime defines the per-step outcome classification the executor
// emits. It is a leaf package so telemetry and tests can consume step
// outcomes without importing the engine.
package runtime

// StepOutcome classifies how a single pipeline step ended.
type StepOutcome string

const (
	// OutcomeSuccess: the step ran and its validation passed.
	OutcomeSuccess StepOutcome = "success"
	// OutcomeFailure: the step ran and produced violations.
	OutcomeFailure StepOutcome = "failure"
	// OutcomeSkipped: the step's predicate returned false; the step did not
	// run and is not counted as executed.
	OutcomeSkipped StepOutcome = "skipped"
	// OutcomeRecovered: validation failed but the step's recovery hook
	// substituted a replacement payload.
	OutcomeRecovered StepOutcome = "recovered"
	// OutcomeError: the step aborted on a non-validation error, such as a
	// transform failure or an expired deadline.
	OutcomeError StepOutcome = "error"
)
