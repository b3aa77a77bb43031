// Package config loads declarative validation bundles: contracts, pipelines,
// and dispatcher rule sets described in YAML (JSON accepted as a fallback).
// Predicates appear as expression strings; transforms and recovery hooks are
// code and stay programmatic-only.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/verityengine/verity/pkg/domain"
)

// Bundle is the on-disk shape of a validation configuration.
type Bundle struct {
	Contracts   []ContractSpec   `yaml:"contracts" json:"contracts"`
	Pipelines   []PipelineSpec   `yaml:"pipelines" json:"pipelines"`
	Dispatchers []DispatcherSpec `yaml:"dispatchers" json:"dispatchers"`
}

// ContractSpec declares one contract.
type ContractSpec struct {
	Name        string      `yaml:"name" json:"name"`
	Version     int         `yaml:"version" json:"version"`
	Description string      `yaml:"description" json:"description"`
	Schema      *SchemaSpec `yaml:"schema" json:"schema"`
}

// SchemaSpec mirrors domain.Schema with serialization tags. Kind selects
// which field group applies.
type SchemaSpec struct {
	Kind string `yaml:"kind" json:"kind"`

	Type      string   `yaml:"type,omitempty" json:"type,omitempty"`
	Min       *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	MinLength *int     `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLength *int     `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Pattern   string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Enum      []any    `yaml:"enum,omitempty" json:"enum,omitempty"`
	Format    string   `yaml:"format,omitempty" json:"format,omitempty"`

	Fields   map[string]*SchemaSpec `yaml:"fields,omitempty" json:"fields,omitempty"`
	Required []string               `yaml:"required,omitempty" json:"required,omitempty"`
	Unknown  string                 `yaml:"unknown_fields,omitempty" json:"unknown_fields,omitempty"`

	Element  *SchemaSpec `yaml:"element,omitempty" json:"element,omitempty"`
	MinItems *int        `yaml:"min_items,omitempty" json:"min_items,omitempty"`
	MaxItems *int        `yaml:"max_items,omitempty" json:"max_items,omitempty"`

	Options []*SchemaSpec `yaml:"options,omitempty" json:"options,omitempty"`

	Ref string `yaml:"ref,omitempty" json:"ref,omitempty"`

	PolicyModule     string `yaml:"policy_module,omitempty" json:"policy_module,omitempty"`
	PolicyEntrypoint string `yaml:"policy_entrypoint,omitempty" json:"policy_entrypoint,omitempty"`
}

// PipelineSpec declares one pipeline. Steps carry expression predicates;
// transforms and recovery hooks cannot be expressed declaratively.
type PipelineSpec struct {
	Name          string     `yaml:"name" json:"name"`
	Strategy      string     `yaml:"strategy" json:"strategy"`
	MaxViolations int        `yaml:"max_violations" json:"max_violations"`
	Cache         CacheSpec  `yaml:"cache" json:"cache"`
	Security      SecSpec    `yaml:"security" json:"security"`
	Steps         []StepSpec `yaml:"steps" json:"steps"`
}

// StepSpec declares one pipeline step.
type StepSpec struct {
	Name            string `yaml:"name" json:"name"`
	When            string `yaml:"when,omitempty" json:"when,omitempty"`
	Contract        string `yaml:"contract" json:"contract"`
	ContinueOnError bool   `yaml:"continue_on_error" json:"continue_on_error"`
}

// CacheSpec declares a result-cache policy.
type CacheSpec struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	TTL     string `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// SecSpec declares payload bounds checked before validation.
type SecSpec struct {
	MaxDepth        int `yaml:"max_depth" json:"max_depth"`
	MaxStringLength int `yaml:"max_string_length" json:"max_string_length"`
}

// DispatcherSpec declares one named rule set.
type DispatcherSpec struct {
	Name    string     `yaml:"name" json:"name"`
	Default string     `yaml:"default,omitempty" json:"default,omitempty"`
	Rules   []RuleSpec `yaml:"rules" json:"rules"`
}

// RuleSpec declares one conditional rule. An empty When always matches.
type RuleSpec struct {
	When        string `yaml:"when,omitempty" json:"when,omitempty"`
	Contract    string `yaml:"contract" json:"contract"`
	Priority    int    `yaml:"priority" json:"priority"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Parse decodes a bundle from raw bytes, trying YAML first and JSON second.
func Parse(data []byte) (*Bundle, error) {
	var bundle Bundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		if jsonErr := json.Unmarshal(data, &bundle); jsonErr != nil {
			return nil, fmt.Errorf("parse bundle: %w", err)
		}
	}
	return &bundle, nil
}

// Load reads and decodes a bundle file.
func Load(path string) (*Bundle, error) {
	// #nosec G304 -- File path is configured at startup
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	return Parse(data)
}

// ToDomain converts the contract spec.
func (c ContractSpec) ToDomain() (*domain.Contract, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("contract name is required")
	}
	schema, err := c.Schema.toDomain()
	if err != nil {
		return nil, fmt.Errorf("contract %q: %w", c.Name, err)
	}
	return &domain.Contract{
		Name:        c.Name,
		Version:     c.Version,
		Description: c.Description,
		Schema:      schema,
	}, nil
}

func (s *SchemaSpec) toDomain() (*domain.Schema, error) {
	if s == nil {
		return nil, fmt.Errorf("schema is required")
	}

	out := &domain.Schema{
		Kind:             domain.SchemaKind(s.Kind),
		Type:             domain.LeafType(s.Type),
		Min:              s.Min,
		Max:              s.Max,
		MinLength:        s.MinLength,
		MaxLength:        s.MaxLength,
		Pattern:          s.Pattern,
		Enum:             s.Enum,
		Format:           s.Format,
		Required:         s.Required,
		Unknown:          domain.UnknownFieldPolicy(s.Unknown),
		MinItems:         s.MinItems,
		MaxItems:         s.MaxItems,
		Ref:              s.Ref,
		PolicyModule:     s.PolicyModule,
		PolicyEntrypoint: s.PolicyEntrypoint,
	}

	if len(s.Fields) > 0 {
		out.Fields = make(map[string]*domain.Schema, len(s.Fields))
		for name, field := range s.Fields {
			converted, err := field.toDomain()
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			out.Fields[name] = converted
		}
	}
	if s.Element != nil {
		element, err := s.Element.toDomain()
		if err != nil {
			return nil, fmt.Errorf("element: %w", err)
		}
		out.Element = element
	}
	for i, option := range s.Options {
		converted, err := option.toDomain()
		if err != nil {
			return nil, fmt.Errorf("option %d: %w", i, err)
		}
		out.Options = append(out.Options, converted)
	}
	return out, nil
}

// ToDomain converts the pipeline spec. compilePredicate turns a When
// expression into a runnable predicate; the engine package supplies it so
// config stays free of an engine import cycle.
func (p PipelineSpec) ToDomain(compilePredicate func(string) (domain.Predicate, error)) (domain.PipelineDefinition, error) {
	def := domain.PipelineDefinition{
		Name:          p.Name,
		Strategy:      domain.ErrorStrategy(p.Strategy),
		MaxViolations: p.MaxViolations,
		Security: domain.SecurityPolicy{
			MaxDepth:        p.Security.MaxDepth,
			MaxStringLength: p.Security.MaxStringLength,
		},
	}

	def.Cache.Enabled = p.Cache.Enabled
	if p.Cache.TTL != "" {
		ttl, err := time.ParseDuration(p.Cache.TTL)
		if err != nil {
			return domain.PipelineDefinition{}, fmt.Errorf("pipeline %q: cache ttl: %w", p.Name, err)
		}
		def.Cache.TTL = ttl
	}

	for i, step := range p.Steps {
		converted := domain.PipelineStep{
			Name:            step.Name,
			Contract:        step.Contract,
			ContinueOnError: step.ContinueOnError,
		}
		if step.When != "" {
			predicate, err := compilePredicate(step.When)
			if err != nil {
				return domain.PipelineDefinition{}, fmt.Errorf("pipeline %q step %d: %w", p.Name, i, err)
			}
			converted.Predicate = predicate
		}
		def.Steps = append(def.Steps, converted)
	}
	return def, nil
}

// ToDomain converts the rule spec.
func (r RuleSpec) ToDomain(compilePredicate func(string) (domain.Predicate, error)) (domain.ConditionalRule, error) {
	rule := domain.ConditionalRule{
		Contract:    r.Contract,
		Priority:    r.Priority,
		Description: r.Description,
	}
	if r.When != "" {
		predicate, err := compilePredicate(r.When)
		if err != nil {
			return domain.ConditionalRule{}, err
		}
		rule.Predicate = predicate
	}
	return rule, nil
}
