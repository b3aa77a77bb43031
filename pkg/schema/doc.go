// Package schema compiles domain.Schema trees into an executable check plan
// and evaluates payloads against it. Compilation happens once per structural
// hash (the compiled-contract cache memoizes it); evaluation is read-only and
// safe for concurrent use.
package schema
