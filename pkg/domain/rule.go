package domain

// Context carries caller-supplied ambient data (role, tenant, request
// metadata) alongside the payload during dispatch and pipeline execution.
// It is call-local and never mutated by the engine.
type Context map[string]any

// Predicate decides whether a rule or step applies to the given payload.
// Predicates must be pure: no side effects, no retained references.
type Predicate func(data any, ctx Context) bool

// ConditionalRule binds a predicate to a target contract with a priority.
// Higher priorities win; among equal priorities the rule added first wins.
// Rules are immutable once handed to a dispatcher.
type ConditionalRule struct {
	Predicate   Predicate
	Contract    string
	Priority    int
	Description string
}
