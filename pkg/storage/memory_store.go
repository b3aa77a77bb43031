package storage

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verityengine/verity/pkg/domain"
	"github.com/verityengine/verity/pkg/schema"
)

// MemoryContractStore is the in-memory ContractStore. Contracts are immutable
// once registered; only the usage metadata moves, and it moves atomically so
// concurrent lookups never block each other.
type MemoryContractStore struct {
	mu        sync.RWMutex
	contracts map[string]*record
}

type record struct {
	contract     *domain.Contract
	hash         string
	complexity   int
	dependencies []string

	usageCount atomic.Int64
	lastUsed   atomic.Int64 // unix nanoseconds
}

// NewMemoryContractStore creates an empty store.
func NewMemoryContractStore() *MemoryContractStore {
	return &MemoryContractStore{contracts: make(map[string]*record)}
}

// Register validates the schema, derives registration metadata, and installs
// the contract. Re-registering a name replaces the schema and resets usage.
func (s *MemoryContractStore) Register(_ context.Context, contract *domain.Contract) (domain.ContractInfo, error) {
	if contract == nil || contract.Name == "" {
		return domain.ContractInfo{}, domain.NewConfigError(domain.ErrSchemaInvalid, "")
	}

	compiled, err := schema.Compile(contract)
	if err != nil {
		return domain.ContractInfo{}, err
	}

	stored := &domain.Contract{
		Name:        contract.Name,
		Version:     contract.Version,
		Description: contract.Description,
		Schema:      contract.Schema,
	}

	s.mu.Lock()
	if stored.Version == 0 {
		stored.Version = 1
		if prev, ok := s.contracts[stored.Name]; ok {
			stored.Version = prev.contract.Version + 1
		}
	}
	rec := &record{
		contract:     stored,
		hash:         compiled.Hash,
		complexity:   compiled.Complexity,
		dependencies: compiled.Dependencies,
	}
	s.contracts[stored.Name] = rec
	s.mu.Unlock()

	return rec.info(), nil
}

// Get returns the contract and records the lookup.
func (s *MemoryContractStore) Get(_ context.Context, name string) (*domain.Contract, domain.ContractInfo, error) {
	s.mu.RLock()
	rec, ok := s.contracts[name]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ContractInfo{}, domain.NewConfigError(domain.ErrUnknownContract, name)
	}

	rec.usageCount.Add(1)
	rec.lastUsed.Store(time.Now().UnixNano())
	return rec.contract, rec.info(), nil
}

// Info returns metadata without counting a use.
func (s *MemoryContractStore) Info(_ context.Context, name string) (domain.ContractInfo, error) {
	s.mu.RLock()
	rec, ok := s.contracts[name]
	s.mu.RUnlock()
	if !ok {
		return domain.ContractInfo{}, domain.NewConfigError(domain.ErrUnknownContract, name)
	}
	return rec.info(), nil
}

// List returns metadata for all contracts sorted by name.
func (s *MemoryContractStore) List(_ context.Context) []domain.ContractInfo {
	s.mu.RLock()
	out := make([]domain.ContractInfo, 0, len(s.contracts))
	for _, rec := range s.contracts {
		out = append(out, rec.info())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *record) info() domain.ContractInfo {
	return domain.ContractInfo{
		Name:         r.contract.Name,
		Version:      r.contract.Version,
		Hash:         r.hash,
		Complexity:   r.complexity,
		Dependencies: append([]string(nil), r.dependencies...),
		UsageCount:   r.usageCount.Load(),
		LastUsed:     r.lastUsed.Load(),
	}
}
