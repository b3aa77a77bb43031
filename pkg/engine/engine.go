package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/verityengine/verity/pkg/cache"
	"github.com/verityengine/verity/pkg/domain"
	"github.com/verityengine/verity/pkg/policy"
	"github.com/verityengine/verity/pkg/schema"
	"github.com/verityengine/verity/pkg/storage"
	"github.com/verityengine/verity/pkg/telemetry"
)

const (
	defaultCompiledCapacity = 256
	defaultResultCapacity   = 1024
	defaultResultTTL        = 5 * time.Minute
)

// Config holds dependencies for creating an Engine. Zero-value fields fall
// back to sensible defaults; only Store is commonly supplied by callers that
// want to share a store across engines.
type Config struct {
	Store            storage.ContractStore
	Logger           *slog.Logger
	Audit            telemetry.AuditSink
	Metrics          *cache.Metrics
	CompiledCapacity int
	ResultCapacity   int
	DefaultResultTTL time.Duration
}

// Engine wires the contract store, both cache tiers, the policy engine, and
// the pipeline registry into one validation facade.
type Engine struct {
	store    storage.ContractStore
	compiled *cache.CompiledCache
	results  *cache.ResultCache
	policy   *policy.Engine
	registry *PipelineRegistry
	audit    telemetry.AuditSink
	logger   *slog.Logger

	defaultTTL time.Duration
	metrics    *cache.Metrics
}

// New creates an Engine from the config.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = storage.NewMemoryContractStore()
	}
	audit := cfg.Audit
	if audit == nil {
		audit = telemetry.NewSlogSink(logger)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = cache.NewMetrics()
	}
	compiledCap := cfg.CompiledCapacity
	if compiledCap <= 0 {
		compiledCap = defaultCompiledCapacity
	}
	resultCap := cfg.ResultCapacity
	if resultCap <= 0 {
		resultCap = defaultResultCapacity
	}
	ttl := cfg.DefaultResultTTL
	if ttl <= 0 {
		ttl = defaultResultTTL
	}

	return &Engine{
		store:      store,
		compiled:   cache.NewCompiledCache(compiledCap, metrics.Tier("compiled"), logger),
		results:    cache.NewResultCache(resultCap, metrics.Tier("result"), logger),
		policy:     policy.NewEngine(),
		registry:   NewPipelineRegistry(),
		audit:      audit,
		logger:     logger,
		defaultTTL: ttl,
		metrics:    metrics,
	}
}

// Store exposes the underlying contract store.
func (e *Engine) Store() storage.ContractStore { return e.store }

// Metrics exposes the cache metrics registry, for serving over HTTP.
func (e *Engine) Metrics() *cache.Metrics { return e.metrics }

// RegisterContract validates and installs a contract.
func (e *Engine) RegisterContract(ctx context.Context, contract *domain.Contract) (domain.ContractInfo, error) {
	info, err := e.store.Register(ctx, contract)
	if err != nil {
		return domain.ContractInfo{}, err
	}
	e.logger.Info("contract registered",
		"contract", info.Name,
		"version", info.Version,
		"hash", info.Hash,
		"complexity", info.Complexity,
	)
	return info, nil
}

// RegisterPipeline validates and installs a pipeline definition.
func (e *Engine) RegisterPipeline(def domain.PipelineDefinition) error {
	if err := e.registry.Register(def); err != nil {
		return err
	}
	e.logger.Info("pipeline registered",
		"pipeline", def.Name,
		"steps", len(def.Steps),
		"strategy", string(def.Strategy),
	)
	return nil
}

// Pipelines exposes the registry, for introspection.
func (e *Engine) Pipelines() *PipelineRegistry { return e.registry }

// NewDispatcher returns an empty dispatcher bound to this engine's store.
func (e *Engine) NewDispatcher() *Dispatcher {
	return &Dispatcher{engine: e}
}

// Statistics snapshots both cache tiers.
func (e *Engine) Statistics() map[string]cache.Statistics {
	return map[string]cache.Statistics{
		"compiled": e.compiled.Statistics(),
		"result":   e.results.Statistics(),
	}
}

// FlushCaches empties both tiers, typically after a configuration reload.
func (e *Engine) FlushCaches() {
	e.compiled.Flush()
	e.results.Flush()
	e.policy.Flush()
}

// ResolveCompiled routes a contract name through the store and the
// compiled-contract tier. It implements schema.Resolver, so ref schema nodes
// resolve through the same path as top-level lookups.
func (e *Engine) ResolveCompiled(ctx context.Context, name string) (*schema.CompiledContract, error) {
	contract, info, err := e.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	compiled, _, err := e.compiled.GetOrCompile(info.Hash, func() (*schema.CompiledContract, error) {
		return schema.Compile(contract)
	})
	return compiled, err
}

// env builds the evaluation environment shared by validator and executor.
func (e *Engine) env() schema.Env {
	return schema.Env{Resolver: e, Policy: e.policy}
}

// checkDependencies verifies that every contract the named contract refs,
// directly or through the dependency lists recorded at registration, is
// present in the store. Called before any data is processed so configuration
// errors surface ahead of validation.
func (e *Engine) checkDependencies(ctx context.Context, info domain.ContractInfo) error {
	seen := map[string]bool{info.Name: true}
	queue := append([]string(nil), info.Dependencies...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true
		depInfo, err := e.store.Info(ctx, name)
		if err != nil {
			return err
		}
		queue = append(queue, depInfo.Dependencies...)
	}
	return nil
}
