package schema

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/verityengine/verity/pkg/domain"
)

// Resolver resolves a contract reference to its compiled form. Implementations
// route through the contract store and the compiled-contract cache.
type Resolver interface {
	ResolveCompiled(ctx context.Context, name string) (*CompiledContract, error)
}

// PolicyEvaluator runs a Rego policy check and converts its output to
// violations. nil disables policy schema kinds.
type PolicyEvaluator interface {
	CheckPolicy(ctx context.Context, module, entrypoint string, payload any) ([]domain.Violation, error)
}

// Env supplies the collaborators an evaluation may need. The zero value works
// for contracts without ref or policy nodes.
type Env struct {
	Resolver Resolver
	Policy   PolicyEvaluator
}

// Evaluate checks data against the compiled contract. It returns the accepted
// (possibly stripped) value and the ordered violation list. The error return
// is reserved for configuration failures (unresolvable refs, policy engine
// errors) and context cancellation; validation failures are violations.
func (c *CompiledContract) Evaluate(ctx context.Context, data any, env Env) (any, []domain.Violation, error) {
	return c.root.eval(ctx, env, nil, data)
}

func (n *node) eval(ctx context.Context, env Env, path []string, value any) (any, []domain.Violation, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	switch n.kind {
	case domain.SchemaLeaf:
		return value, n.evalLeaf(path, value), nil
	case domain.SchemaObject:
		return n.evalObject(ctx, env, path, value)
	case domain.SchemaArray:
		return n.evalArray(ctx, env, path, value)
	case domain.SchemaUnion:
		return n.evalUnion(ctx, env, path, value)
	case domain.SchemaRef:
		return n.evalRef(ctx, env, path, value)
	case domain.SchemaPolicy:
		return n.evalPolicy(ctx, env, path, value)
	default:
		return nil, nil, fmt.Errorf("%w: unexpected node kind %q", domain.ErrSchemaInvalid, n.kind)
	}
}

func (n *node) evalLeaf(path []string, value any) []domain.Violation {
	var out []domain.Violation

	switch n.leafType {
	case domain.LeafAny:
		// No type constraint; bounds below still apply where they fit.
	case domain.LeafString:
		s, ok := value.(string)
		if !ok {
			return append(out, typeViolation(path, "string", value))
		}
		if n.minLen != nil && len(s) < *n.minLen {
			out = append(out, domain.Violation{
				Path:     clonePath(path),
				Code:     domain.CodeTooShort,
				Message:  fmt.Sprintf("string must be at least %d characters", *n.minLen),
				Expected: fmt.Sprintf("len>=%d", *n.minLen),
				Received: fmt.Sprintf("len=%d", len(s)),
			})
		}
		if n.maxLen != nil && len(s) > *n.maxLen {
			out = append(out, domain.Violation{
				Path:     clonePath(path),
				Code:     domain.CodeTooLong,
				Message:  fmt.Sprintf("string must be at most %d characters", *n.maxLen),
				Expected: fmt.Sprintf("len<=%d", *n.maxLen),
				Received: fmt.Sprintf("len=%d", len(s)),
			})
		}
		if n.pattern != nil && !n.pattern.MatchString(s) {
			out = append(out, domain.Violation{
				Path:     clonePath(path),
				Code:     domain.CodePatternMismatch,
				Message:  fmt.Sprintf("value does not match pattern %q", n.patSrc),
				Expected: n.patSrc,
			})
		}
	case domain.LeafBool:
		if _, ok := value.(bool); !ok {
			return append(out, typeViolation(path, "bool", value))
		}
	case domain.LeafNumber, domain.LeafInteger:
		f, ok := asFloat(value)
		if !ok {
			return append(out, typeViolation(path, string(n.leafType), value))
		}
		if n.leafType == domain.LeafInteger && f != math.Trunc(f) {
			return append(out, typeViolation(path, "integer", value))
		}
		if n.min != nil && f < *n.min {
			out = append(out, domain.Violation{
				Path:     clonePath(path),
				Code:     domain.CodeTooSmall,
				Message:  fmt.Sprintf("value must be >= %v", *n.min),
				Expected: fmt.Sprintf(">=%v", *n.min),
				Received: formatValue(value),
			})
		}
		if n.max != nil && f > *n.max {
			out = append(out, domain.Violation{
				Path:     clonePath(path),
				Code:     domain.CodeTooBig,
				Message:  fmt.Sprintf("value must be <= %v", *n.max),
				Expected: fmt.Sprintf("<=%v", *n.max),
				Received: formatValue(value),
			})
		}
	}

	if len(n.enum) > 0 && !enumContains(n.enum, value) {
		out = append(out, domain.Violation{
			Path:     clonePath(path),
			Code:     domain.CodeInvalidEnumValue,
			Message:  "value is not one of the allowed options",
			Expected: formatEnum(n.enum),
			Received: formatValue(value),
		})
	}
	return out
}

func (n *node) evalObject(ctx context.Context, env Env, path []string, value any) (any, []domain.Violation, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return value, []domain.Violation{typeViolation(path, "object", value)}, nil
	}

	var out []domain.Violation
	accepted := make(map[string]any, len(obj))

	for _, name := range n.fieldNames {
		field := n.fields[name]
		raw, present := obj[name]
		if !present {
			if _, required := n.required[name]; required {
				out = append(out, domain.Violation{
					Path:    append(clonePath(path), name),
					Code:    domain.CodeRequired,
					Message: fmt.Sprintf("missing required field %q", name),
				})
			}
			continue
		}
		acceptedField, violations, err := field.eval(ctx, env, append(path, name), raw)
		if err != nil {
			return nil, nil, err
		}
		if len(violations) == 0 {
			accepted[name] = acceptedField
		}
		out = append(out, violations...)
	}

	for name, raw := range obj {
		if _, declared := n.fields[name]; declared {
			continue
		}
		switch n.unknown {
		case domain.UnknownAllow:
			accepted[name] = raw
		case domain.UnknownReject:
			out = append(out, domain.Violation{
				Path:    append(clonePath(path), name),
				Code:    domain.CodeUnknownField,
				Message: fmt.Sprintf("field %q is not allowed", name),
			})
		case domain.UnknownStrip:
			// Dropped from the accepted value.
		}
	}

	return accepted, out, nil
}

func (n *node) evalArray(ctx context.Context, env Env, path []string, value any) (any, []domain.Violation, error) {
	items, ok := value.([]any)
	if !ok {
		return value, []domain.Violation{typeViolation(path, "array", value)}, nil
	}

	var out []domain.Violation
	if n.minItems != nil && len(items) < *n.minItems {
		out = append(out, domain.Violation{
			Path:     clonePath(path),
			Code:     domain.CodeTooFewItems,
			Message:  fmt.Sprintf("array must have at least %d items", *n.minItems),
			Expected: fmt.Sprintf("len>=%d", *n.minItems),
			Received: fmt.Sprintf("len=%d", len(items)),
		})
	}
	if n.maxItems != nil && len(items) > *n.maxItems {
		out = append(out, domain.Violation{
			Path:     clonePath(path),
			Code:     domain.CodeTooManyItems,
			Message:  fmt.Sprintf("array must have at most %d items", *n.maxItems),
			Expected: fmt.Sprintf("len<=%d", *n.maxItems),
			Received: fmt.Sprintf("len=%d", len(items)),
		})
	}

	accepted := make([]any, 0, len(items))
	for i, item := range items {
		acceptedItem, violations, err := n.element.eval(ctx, env, append(path, fmt.Sprintf("%d", i)), item)
		if err != nil {
			return nil, nil, err
		}
		if len(violations) == 0 {
			accepted = append(accepted, acceptedItem)
		}
		out = append(out, violations...)
	}
	return accepted, out, nil
}

func (n *node) evalUnion(ctx context.Context, env Env, path []string, value any) (any, []domain.Violation, error) {
	var last []domain.Violation
	for _, option := range n.options {
		accepted, violations, err := option.eval(ctx, env, path, value)
		if err != nil {
			return nil, nil, err
		}
		if len(violations) == 0 {
			return accepted, nil, nil
		}
		last = violations
	}
	out := append(last, domain.Violation{
		Path:    clonePath(path),
		Code:    domain.CodeUnionMismatch,
		Message: fmt.Sprintf("value matched none of %d union options", len(n.options)),
	})
	return value, out, nil
}

func (n *node) evalRef(ctx context.Context, env Env, path []string, value any) (any, []domain.Violation, error) {
	if env.Resolver == nil {
		return nil, nil, domain.NewConfigError(domain.ErrUnknownContract, n.ref)
	}
	target, err := env.Resolver.ResolveCompiled(ctx, n.ref)
	if err != nil {
		return nil, nil, err
	}
	accepted, violations, err := target.root.eval(ctx, env, path, value)
	if err != nil {
		return nil, nil, err
	}
	return accepted, violations, nil
}

func (n *node) evalPolicy(ctx context.Context, env Env, path []string, value any) (any, []domain.Violation, error) {
	if env.Policy == nil {
		return nil, nil, fmt.Errorf("%w: policy evaluation not configured", domain.ErrSchemaInvalid)
	}
	violations, err := env.Policy.CheckPolicy(ctx, n.policyModule, n.policyEntry, value)
	if err != nil {
		return nil, nil, err
	}
	for i := range violations {
		violations[i].Path = append(clonePath(path), violations[i].Path...)
	}
	return value, violations, nil
}

func typeViolation(path []string, expected string, value any) domain.Violation {
	return domain.Violation{
		Path:     clonePath(path),
		Code:     domain.CodeInvalidType,
		Message:  fmt.Sprintf("expected %s", expected),
		Expected: expected,
		Received: typeName(value),
	}
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func enumContains(enum []any, value any) bool {
	for _, candidate := range enum {
		if cf, ok := asFloat(candidate); ok {
			if vf, ok := asFloat(value); ok && cf == vf {
				return true
			}
			continue
		}
		if candidate == value {
			return true
		}
	}
	return false
}

func formatEnum(enum []any) string {
	parts := make([]string, 0, len(enum))
	for _, value := range enum {
		parts = append(parts, formatValue(value))
	}
	return strings.Join(parts, "|")
}

func formatValue(value any) string {
	return fmt.Sprintf("%v", value)
}

func clonePath(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	return append([]string(nil), path...)
}
