package domain

import "time"

// ExecutionResult is the outcome of validating a payload, either against a
// single contract or through a pipeline. A fresh result is built per call and
// never shared; cached copies are cloned before being returned.
type ExecutionResult struct {
	Success       bool          `json:"success"`
	Data          any           `json:"data,omitempty"`
	Violations    []Violation   `json:"violations,omitempty"`
	StepsExecuted []string      `json:"steps_executed,omitempty"`
	Duration      time.Duration `json:"duration"`
	ExecutionID   string        `json:"execution_id"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Clone returns a copy whose slices do not alias the receiver's. Data is
// shared: accepted payloads are treated as immutable once returned.
func (r ExecutionResult) Clone() ExecutionResult {
	out := r
	if len(r.Violations) > 0 {
		out.Violations = append([]Violation(nil), r.Violations...)
	}
	if len(r.StepsExecuted) > 0 {
		out.StepsExecuted = append([]string(nil), r.StepsExecuted...)
	}
	return out
}

// AuditEvent is emitted once per public validation or pipeline call for
// consumption by an external audit/metrics sink.
type AuditEvent struct {
	Name           string        `json:"name"`
	Kind           string        `json:"kind"` // "contract" or "pipeline"
	Success        bool          `json:"success"`
	Duration       time.Duration `json:"duration_ms"`
	ViolationCount int           `json:"violation_count"`
	ExecutionID    string        `json:"execution_id"`
	Timestamp      time.Time     `json:"timestamp"`
}
