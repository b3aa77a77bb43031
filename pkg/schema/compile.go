package schema

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/verityengine/verity/pkg/domain"
)

// CompiledContract is the pre-optimized, executable form of a contract. It is
// immutable after Compile and safe to share across concurrent evaluations;
// the compiled-contract cache stores exactly this.
type CompiledContract struct {
	Name         string
	Hash         string
	Complexity   int
	Dependencies []string

	root *node
}

// node mirrors a schema variant with derived state attached (compiled
// patterns, required-field sets, collapsed trivial wrappers).
type node struct {
	kind domain.SchemaKind

	leafType domain.LeafType
	min, max *float64
	minLen   *int
	maxLen   *int
	pattern  *regexp.Regexp
	patSrc   string
	enum     []any
	format   string

	fieldNames []string // declaration-stable order for deterministic output
	fields     map[string]*node
	required   map[string]struct{}
	unknown    domain.UnknownFieldPolicy

	element  *node
	minItems *int
	maxItems *int

	options []*node

	ref string

	policyModule string
	policyEntry  string
}

// Compile validates the schema, derives its structural hash, dependency list,
// and complexity score, and builds the check plan. The returned contract is
// what registration stores and what the compiled-contract cache memoizes.
func Compile(contract *domain.Contract) (*CompiledContract, error) {
	if contract == nil || contract.Schema == nil {
		return nil, fmt.Errorf("%w: contract has no schema", domain.ErrSchemaInvalid)
	}

	complexity := 0
	root, err := compileNode(contract.Schema, nil, &complexity)
	if err != nil {
		return nil, err
	}

	return &CompiledContract{
		Name:         contract.Name,
		Hash:         StructuralHash(contract.Schema),
		Complexity:   complexity,
		Dependencies: Dependencies(contract.Schema),
		root:         root,
	}, nil
}

func compileNode(s *domain.Schema, path []string, complexity *int) (*node, error) {
	if s == nil {
		return nil, invalidAt(path, "nil schema node")
	}
	*complexity++

	switch s.Kind {
	case domain.SchemaLeaf:
		return compileLeaf(s, path, complexity)
	case domain.SchemaObject:
		return compileObject(s, path, complexity)
	case domain.SchemaArray:
		if s.Element == nil {
			return nil, invalidAt(path, "array schema has no element")
		}
		element, err := compileNode(s.Element, append(path, "[]"), complexity)
		if err != nil {
			return nil, err
		}
		return &node{
			kind:     domain.SchemaArray,
			element:  element,
			minItems: s.MinItems,
			maxItems: s.MaxItems,
		}, nil
	case domain.SchemaUnion:
		if len(s.Options) == 0 {
			return nil, invalidAt(path, "union schema has no options")
		}
		options := make([]*node, 0, len(s.Options))
		for i, option := range s.Options {
			compiled, err := compileNode(option, append(path, fmt.Sprintf("option[%d]", i)), complexity)
			if err != nil {
				return nil, err
			}
			options = append(options, compiled)
		}
		// Single-candidate unions collapse to the candidate itself.
		if len(options) == 1 {
			return options[0], nil
		}
		return &node{kind: domain.SchemaUnion, options: options}, nil
	case domain.SchemaRef:
		if s.Ref == "" {
			return nil, invalidAt(path, "ref schema has no target")
		}
		return &node{kind: domain.SchemaRef, ref: s.Ref}, nil
	case domain.SchemaPolicy:
		if s.PolicyModule == "" || s.PolicyEntrypoint == "" {
			return nil, invalidAt(path, "policy schema needs a module and entrypoint")
		}
		return &node{
			kind:         domain.SchemaPolicy,
			policyModule: s.PolicyModule,
			policyEntry:  s.PolicyEntrypoint,
		}, nil
	default:
		return nil, invalidAt(path, fmt.Sprintf("unknown schema kind %q", s.Kind))
	}
}

func compileLeaf(s *domain.Schema, path []string, complexity *int) (*node, error) {
	leafType := s.Type
	if leafType == "" {
		leafType = domain.LeafAny
	}
	switch leafType {
	case domain.LeafString, domain.LeafNumber, domain.LeafInteger, domain.LeafBool, domain.LeafAny:
	default:
		return nil, invalidAt(path, fmt.Sprintf("unknown leaf type %q", leafType))
	}

	n := &node{
		kind:     domain.SchemaLeaf,
		leafType: leafType,
		min:      s.Min,
		max:      s.Max,
		minLen:   s.MinLength,
		maxLen:   s.MaxLength,
		enum:     s.Enum,
		format:   s.Format,
	}

	if s.Pattern != "" {
		compiled, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, invalidAt(path, fmt.Sprintf("bad pattern %q: %v", s.Pattern, err))
		}
		n.pattern = compiled
		n.patSrc = s.Pattern
		*complexity++
	}
	if s.Min != nil || s.Max != nil {
		*complexity++
	}
	if s.MinLength != nil || s.MaxLength != nil {
		*complexity++
	}
	if len(s.Enum) > 0 {
		*complexity++
	}
	return n, nil
}

func compileObject(s *domain.Schema, path []string, complexity *int) (*node, error) {
	unknown := s.Unknown
	if unknown == "" {
		unknown = domain.UnknownStrip
	}
	switch unknown {
	case domain.UnknownStrip, domain.UnknownReject, domain.UnknownAllow:
	default:
		return nil, invalidAt(path, fmt.Sprintf("unknown field policy %q", unknown))
	}

	n := &node{
		kind:     domain.SchemaObject,
		fields:   make(map[string]*node, len(s.Fields)),
		required: make(map[string]struct{}, len(s.Required)),
		unknown:  unknown,
	}

	// Sorted iteration keeps compilation deterministic; declaration order is
	// not observable on a map-typed schema.
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	n.fieldNames = names

	for _, name := range names {
		compiled, err := compileNode(s.Fields[name], append(path, name), complexity)
		if err != nil {
			return nil, err
		}
		n.fields[name] = compiled
	}

	for _, name := range s.Required {
		if _, ok := n.fields[name]; !ok {
			return nil, invalidAt(path, fmt.Sprintf("required field %q is not declared", name))
		}
		n.required[name] = struct{}{}
	}
	return n, nil
}

func invalidAt(path []string, msg string) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSchemaInvalid, msg)
	}
	return fmt.Errorf("%w: %s at %v", domain.ErrSchemaInvalid, msg, path)
}
