// Package engine is the validation core: the conditional contract dispatcher,
// the multi-step pipeline executor, and the single-contract validator, all
// sharing one contract store, one compiled-contract cache, and one result
// cache.
//
// The Engine type owns the shared state. Dispatchers and pipeline
// registrations hang off it; each Validate or Execute call is an independent
// unit of work safe to run concurrently with any other.
package engine
