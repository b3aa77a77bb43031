// Package policy evaluates Rego-backed contract constraints through an
// embedded OPA instance. Structural schema kinds cover shape and bounds;
// policy constraints cover the cross-field business rules that do not fit a
// structural walk.
package policy
