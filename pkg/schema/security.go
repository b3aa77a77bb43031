package schema

import (
	"fmt"

	"github.com/verityengine/verity/pkg/domain"
)

// CheckSecurity enforces a pipeline's security policy against the raw payload
// before any contract validation runs. Breaches come back as violations so the
// caller fails the request instead of feeding an abusive payload to the steps.
func CheckSecurity(data any, policy domain.SecurityPolicy) []domain.Violation {
	if policy.MaxDepth <= 0 && policy.MaxStringLength <= 0 {
		return nil
	}
	var out []domain.Violation
	walkSecurity(data, nil, 1, policy, &out)
	return out
}

func walkSecurity(value any, path []string, depth int, policy domain.SecurityPolicy, out *[]domain.Violation) {
	if policy.MaxDepth > 0 && depth > policy.MaxDepth {
		*out = append(*out, domain.Violation{
			Path:     clonePath(path),
			Code:     domain.CodeMaxDepth,
			Message:  fmt.Sprintf("payload nesting exceeds %d levels", policy.MaxDepth),
			Expected: fmt.Sprintf("depth<=%d", policy.MaxDepth),
		})
		return
	}

	switch v := value.(type) {
	case string:
		if policy.MaxStringLength > 0 && len(v) > policy.MaxStringLength {
			*out = append(*out, domain.Violation{
				Path:     clonePath(path),
				Code:     domain.CodeMaxStringLength,
				Message:  fmt.Sprintf("string exceeds %d characters", policy.MaxStringLength),
				Expected: fmt.Sprintf("len<=%d", policy.MaxStringLength),
				Received: fmt.Sprintf("len=%d", len(v)),
			})
		}
	case map[string]any:
		for key, item := range v {
			walkSecurity(item, append(path, key), depth+1, policy, out)
		}
	case []any:
		for i, item := range v {
			walkSecurity(item, append(path, fmt.Sprintf("%d", i)), depth+1, policy, out)
		}
	}
}
