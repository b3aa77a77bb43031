package engine

import (
	"context"

	"github.com/verityengine/verity/pkg/domain"
	"github.com/verityengine/verity/pkg/engine/expr"
)

// CompilePredicate turns an expression into a domain.Predicate. The
// expression is parsed once; evaluation errors (type mismatches against a
// hostile payload) make the predicate false rather than failing the call.
func CompilePredicate(source string) (domain.Predicate, error) {
	compiled, err := expr.Compile(source)
	if err != nil {
		return nil, err
	}
	return func(data any, vctx domain.Context) bool {
		ok, err := compiled.Eval(context.Background(), expr.BindLookup(data, vctx))
		return err == nil && ok
	}, nil
}
