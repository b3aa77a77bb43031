package schema

import (
	"sort"

	"github.com/verityengine/verity/pkg/domain"
)

// Dependencies walks the schema and returns the sorted, deduplicated names of
// every contract it references. The walk is purely structural; ref targets
// are not resolved and may be registered later.
func Dependencies(s *domain.Schema) []string {
	seen := make(map[string]struct{})
	collectDeps(s, seen)
	if len(seen) == 0 {
		return nil
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func collectDeps(s *domain.Schema, seen map[string]struct{}) {
	if s == nil {
		return
	}
	switch s.Kind {
	case domain.SchemaRef:
		if s.Ref != "" {
			seen[s.Ref] = struct{}{}
		}
	case domain.SchemaObject:
		for _, field := range s.Fields {
			collectDeps(field, seen)
		}
	case domain.SchemaArray:
		collectDeps(s.Element, seen)
	case domain.SchemaUnion:
		for _, option := range s.Options {
			collectDeps(option, seen)
		}
	}
}
