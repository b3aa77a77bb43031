package engine

import (
	"context"
	"fmt"

	"github.com/verityengine/verity/pkg/config"
)

// ApplyBundle registers a declarative bundle's contracts, pipelines, and
// dispatchers. Contracts register first so pipeline and dispatcher references
// resolve. Re-applying a changed bundle replaces registrations in place;
// compiled-cache entries for changed schemas miss naturally because keys are
// structural hashes.
func (e *Engine) ApplyBundle(ctx context.Context, bundle *config.Bundle) (map[string]*Dispatcher, error) {
	for _, spec := range bundle.Contracts {
		contract, err := spec.ToDomain()
		if err != nil {
			return nil, err
		}
		if _, err := e.RegisterContract(ctx, contract); err != nil {
			return nil, fmt.Errorf("contract %q: %w", spec.Name, err)
		}
	}

	for _, spec := range bundle.Pipelines {
		def, err := spec.ToDomain(CompilePredicate)
		if err != nil {
			return nil, err
		}
		if err := e.RegisterPipeline(def); err != nil {
			return nil, err
		}
	}

	dispatchers := make(map[string]*Dispatcher, len(bundle.Dispatchers))
	for _, spec := range bundle.Dispatchers {
		if spec.Name == "" {
			return nil, fmt.Errorf("dispatcher name is required")
		}
		d := e.NewDispatcher()
		d.SetDefaultContract(spec.Default)
		for i, ruleSpec := range spec.Rules {
			rule, err := ruleSpec.ToDomain(CompilePredicate)
			if err != nil {
				return nil, fmt.Errorf("dispatcher %q rule %d: %w", spec.Name, i, err)
			}
			d.AddRule(rule)
		}
		dispatchers[spec.Name] = d
	}
	return dispatchers, nil
}
