package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/verityengine/verity/pkg/domain"
)

// PipelineRegistry holds the registered pipeline definitions. Definitions are
// copied on registration and on lookup; callers never share step slices with
// the registry.
type PipelineRegistry struct {
	mu        sync.RWMutex
	pipelines map[string]domain.PipelineDefinition
}

// NewPipelineRegistry creates an empty registry.
func NewPipelineRegistry() *PipelineRegistry {
	return &PipelineRegistry{pipelines: make(map[string]domain.PipelineDefinition)}
}

// Register validates and installs a definition, replacing any previous
// registration under the same name. An empty strategy defaults to strict.
func (r *PipelineRegistry) Register(def domain.PipelineDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("pipeline %q has no steps", def.Name)
	}

	if def.Strategy == "" {
		def.Strategy = domain.StrategyStrict
	}
	switch def.Strategy {
	case domain.StrategyStrict, domain.StrategyCollect, domain.StrategyPermissive:
	default:
		return fmt.Errorf("pipeline %q: unknown error strategy %q", def.Name, def.Strategy)
	}

	steps := make([]domain.PipelineStep, len(def.Steps))
	copy(steps, def.Steps)
	for i, step := range steps {
		if step.Contract == "" {
			return fmt.Errorf("pipeline %q: step %d has no contract", def.Name, i)
		}
		if step.Name == "" {
			steps[i].Name = fmt.Sprintf("step-%d", i)
		}
	}
	def.Steps = steps

	r.mu.Lock()
	r.pipelines[def.Name] = def
	r.mu.Unlock()
	return nil
}

// Get returns the definition for name. Unknown names yield
// domain.ErrUnknownPipeline.
func (r *PipelineRegistry) Get(name string) (domain.PipelineDefinition, error) {
	r.mu.RLock()
	def, ok := r.pipelines[name]
	r.mu.RUnlock()
	if !ok {
		return domain.PipelineDefinition{}, domain.NewConfigError(domain.ErrUnknownPipeline, name)
	}

	steps := make([]domain.PipelineStep, len(def.Steps))
	copy(steps, def.Steps)
	def.Steps = steps
	return def, nil
}

// Names returns the registered pipeline names, sorted.
func (r *PipelineRegistry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		out = append(out, name)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}
