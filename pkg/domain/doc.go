// Package domain contains the core types shared across the validation layer:
// contracts and their schemas, conditional dispatch rules, pipeline
// definitions, execution results, and the error taxonomy.
//
// The package is deliberately dependency-free. Components under pkg/ depend
// on domain, never the other way around.
package domain
