// Package storage holds the contract store: the registry of named, versioned
// validation contracts and their usage metadata. It is the leaf dependency of
// the dispatcher, the executor, and both cache tiers.
package storage

import (
	"context"

	"github.com/verityengine/verity/pkg/domain"
)

// ContractStore is the interface the engine consumes. Implementations must be
// safe for concurrent use; lookups mutate usage metadata.
type ContractStore interface {
	// Register adds or updates a contract. A zero Version is assigned the
	// previous version plus one. The schema is validated structurally; the
	// returned info carries the derived hash, dependency list, and
	// complexity score.
	Register(ctx context.Context, contract *domain.Contract) (domain.ContractInfo, error)

	// Get returns the contract and bumps its usage count and last-used
	// timestamp. Unknown names yield domain.ErrUnknownContract.
	Get(ctx context.Context, name string) (*domain.Contract, domain.ContractInfo, error)

	// Info returns the metadata without touching usage counters.
	Info(ctx context.Context, name string) (domain.ContractInfo, error)

	// List returns metadata for every registered contract, sorted by name.
	List(ctx context.Context) []domain.ContractInfo
}
