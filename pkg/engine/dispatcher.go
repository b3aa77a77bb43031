package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/verityengine/verity/pkg/domain"
)

// Dispatcher selects a contract from an ordered rule set. Rules evaluate in
// priority-descending order; among equal priorities the rule added first
// wins. Rule evaluation has no side effects beyond the usage-counter bump the
// store performs on the winning contract's lookup.
type Dispatcher struct {
	engine *Engine

	mu              sync.RWMutex
	rules           []indexedRule
	defaultContract string
}

// indexedRule pins the insertion index so the priority sort stays stable
// even if the slice is rebuilt.
type indexedRule struct {
	domain.ConditionalRule
	index int
}

// AddRule appends a rule. There is no uniqueness constraint on predicates;
// duplicates simply never win after the first.
func (d *Dispatcher) AddRule(rule domain.ConditionalRule) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rules = append(d.rules, indexedRule{ConditionalRule: rule, index: len(d.rules)})
	sort.SliceStable(d.rules, func(i, j int) bool {
		if d.rules[i].Priority != d.rules[j].Priority {
			return d.rules[i].Priority > d.rules[j].Priority
		}
		return d.rules[i].index < d.rules[j].index
	})
}

// SetDefaultContract names the fallback used when no rule matches. An empty
// name clears the fallback.
func (d *Dispatcher) SetDefaultContract(name string) {
	d.mu.Lock()
	d.defaultContract = name
	d.mu.Unlock()
}

// Rules returns the rules in evaluation order.
func (d *Dispatcher) Rules() []domain.ConditionalRule {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.ConditionalRule, len(d.rules))
	for i, r := range d.rules {
		out[i] = r.ConditionalRule
	}
	return out
}

// Select returns the name of the contract the rule set picks for the payload,
// without touching the store. The rules are copied out under the read lock:
// AddRule re-sorts the backing array in place, so iterating a shared slice
// header outside the lock would race with a concurrent registration.
func (d *Dispatcher) Select(data any, vctx domain.Context) (string, error) {
	d.mu.RLock()
	rules := make([]indexedRule, len(d.rules))
	copy(rules, d.rules)
	fallback := d.defaultContract
	d.mu.RUnlock()

	for _, rule := range rules {
		if rule.Predicate == nil || rule.Predicate(data, vctx) {
			return rule.Contract, nil
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", domain.ErrNoMatchingRule
}

// Resolve picks the contract for the payload and fetches it from the store,
// recording the lookup in the contract's usage metadata.
func (d *Dispatcher) Resolve(ctx context.Context, data any, vctx domain.Context) (*domain.Contract, domain.ContractInfo, error) {
	name, err := d.Select(data, vctx)
	if err != nil {
		return nil, domain.ContractInfo{}, err
	}
	return d.engine.store.Get(ctx, name)
}

// Validate dispatches and then validates the payload against the selected
// contract in one call.
func (d *Dispatcher) Validate(ctx context.Context, data any, vctx domain.Context, opts ValidateOptions) (domain.ExecutionResult, error) {
	name, err := d.Select(data, vctx)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	return d.engine.Validate(ctx, name, data, opts)
}
