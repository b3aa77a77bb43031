package expr

import "strings"

// BindLookup builds a LookupFunc over a payload and a call context. Paths
// rooted at "data" walk the payload; paths rooted at "ctx" walk the context
// map. Only decoded-JSON shapes (maps, slices, scalars) are traversed.
func BindLookup(data any, ctx map[string]any) LookupFunc {
	return func(path string) (any, bool) {
		segments := strings.Split(path, ".")
		switch segments[0] {
		case "data":
			return walk(data, segments[1:])
		case "ctx":
			if ctx == nil {
				return nil, false
			}
			return walk(ctx, segments[1:])
		default:
			return nil, false
		}
	}
}

func walk(value any, segments []string) (any, bool) {
	for _, segment := range segments {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return value, true
}
