// Package cache implements the two-tier validation cache: a compiled-contract
// tier keyed by structural hash and a result tier keyed by
// hash(contract, data, namespace) with TTL. Both tiers share the same
// usage-count eviction policy and expose per-tier statistics backed by
// Prometheus collectors.
package cache
