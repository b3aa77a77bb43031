package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/verityengine/verity/pkg/domain"
)

// Engine parses Rego modules on first use and keeps the prepared queries
// around. Unlike a decision engine with a fixed bundle, contracts bring their
// own modules, so preparation is keyed by (module source, entrypoint).
type Engine struct {
	mu      sync.RWMutex
	queries map[string]*rego.PreparedEvalQuery
}

// NewEngine constructs an empty engine. Safe for concurrent use.
func NewEngine() *Engine {
	return &Engine{queries: make(map[string]*rego.PreparedEvalQuery)}
}

// CheckPolicy evaluates the rule at entrypoint (e.g. "contract/violations")
// in the given module against the payload and converts the result into
// violations. A rule that yields nothing means the payload passed.
func (e *Engine) CheckPolicy(ctx context.Context, module, entrypoint string, payload any) ([]domain.Violation, error) {
	entry := strings.TrimSpace(entrypoint)
	if entry == "" {
		return nil, fmt.Errorf("policy check requires an entrypoint")
	}

	prepared, err := e.getPreparedQuery(ctx, module, entry)
	if err != nil {
		return nil, fmt.Errorf("prepare policy query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return nil, fmt.Errorf("policy eval: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	return parseViolations(results[0].Expressions[0].Value)
}

func (e *Engine) getPreparedQuery(ctx context.Context, module, entry string) (*rego.PreparedEvalQuery, error) {
	key := queryKey(module, entry)

	e.mu.RLock()
	if prepared, ok := e.queries[key]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	parsed, err := ast.ParseModuleWithOpts("contract.rego", module, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse rego module: %w", err)
	}

	query := "data." + strings.ReplaceAll(entry, "/", ".")
	r := rego.New(
		rego.Query(query),
		rego.ParsedModule(parsed),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Respect the first writer if another goroutine prepared it meanwhile.
	if existing, ok := e.queries[key]; ok {
		return existing, nil
	}
	e.queries[key] = &prepared
	return &prepared, nil
}

// Flush drops all prepared queries. Called when a bundle reload replaces
// contracts wholesale.
func (e *Engine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = make(map[string]*rego.PreparedEvalQuery)
}

func queryKey(module, entry string) string {
	h := sha256.New()
	h.Write([]byte(module))
	h.Write([]byte{0})
	h.Write([]byte(entry))
	return hex.EncodeToString(h.Sum(nil))
}

// parseViolations accepts either a set/list of violation objects or a list of
// plain strings, mirroring the shapes Rego authors produce in practice.
func parseViolations(value any) ([]domain.Violation, error) {
	if value == nil {
		return nil, nil
	}

	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("policy eval: rule must yield a list, got %T", value)
	}

	out := make([]domain.Violation, 0, len(items))
	for _, item := range items {
		switch typed := item.(type) {
		case string:
			out = append(out, domain.Violation{
				Code:    domain.CodePolicyViolation,
				Message: typed,
			})
		case map[string]any:
			out = append(out, violationFromMap(typed))
		default:
			return nil, fmt.Errorf("policy eval: unsupported violation shape %T", item)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func violationFromMap(raw map[string]any) domain.Violation {
	v := domain.Violation{Code: domain.CodePolicyViolation}
	if code, ok := raw["code"].(string); ok && code != "" {
		v.Code = code
	}
	if msg, ok := raw["message"].(string); ok {
		v.Message = msg
	}
	if expected, ok := raw["expected"].(string); ok {
		v.Expected = expected
	}
	if received, ok := raw["received"].(string); ok {
		v.Received = received
	}
	v.Path = extractPath(raw["path"])
	return v
}

func extractPath(value any) []string {
	switch typed := value.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), typed...)
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			switch p := item.(type) {
			case string:
				out = append(out, p)
			default:
				out = append(out, fmt.Sprintf("%v", p))
			}
		}
		return out
	case string:
		if typed == "" {
			return nil
		}
		return strings.Split(typed, ".")
	default:
		return nil
	}
}
