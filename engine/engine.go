package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/errors"
	"github.com/wippyai/wasm-pool/mem"
	"github.com/wippyai/wasm-pool/pool"
)

// Config holds configuration for engine creation
type Config struct {
	// Limits bounds the pools backing instances. The zero value selects
	// wasmpool.DefaultLimits.
	Limits wasmpool.Limits

	// Backend supplies the virtual-memory primitives. Nil selects the
	// platform default.
	Backend mem.Backend
}

// Engine couples a wazero runtime with a PoolingAllocator: every linear
// memory of every instance the engine creates is a pooled slot, and
// instantiation fails fast with a typed capacity error once the configured
// concurrency limit is reached.
type Engine struct {
	runtime  wazero.Runtime
	pool     *pool.PoolingAllocator
	memAlloc experimental.MemoryAllocator
	limits   wasmpool.Limits
}

// New creates a pooled engine. A nil config uses default limits.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	limits := wasmpool.DefaultLimits()
	var backend mem.Backend
	if cfg != nil {
		if cfg.Limits != (wasmpool.Limits{}) {
			limits = cfg.Limits
		}
		backend = cfg.Backend
	}

	p, err := pool.New(pool.Config{Limits: limits, Backend: backend})
	if err != nil {
		return nil, err
	}

	// Memory ceilings are enforced by the pool's slot capacity, not by
	// wazero's page limit: the pool clamps each memory's effective
	// capacity and oversized modules are refused by the compile probe.
	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig())

	Logger().Info("pooled engine created",
		zap.Uint32("total_memories", limits.TotalMemories),
		zap.Uint64("memory_slot_bytes", limits.MaxMemoryBytes),
	)
	return &Engine{
		runtime:  runtime,
		pool:     p,
		memAlloc: NewMemoryAllocator(p),
		limits:   limits,
	}, nil
}

// Pool returns the engine's allocator, for stack and table allocation and
// for occupancy stats.
func (e *Engine) Pool() *pool.PoolingAllocator { return e.pool }

// CompileModule compiles a core module and probes its declared memories
// against the configured limits. Incompatible modules are refused here,
// on the loading path, rather than at instantiation.
func (e *Engine) CompileModule(ctx context.Context, wasmBytes []byte) (wazero.CompiledModule, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseProbe, errors.KindInvalidInput, err, "compile module")
	}
	if err := CheckModule(compiled, e.limits); err != nil {
		if cerr := compiled.Close(ctx); cerr != nil {
			Logger().Warn("close rejected module", zap.Error(cerr))
		}
		return nil, err
	}
	return compiled, nil
}

// InstantiateModule instantiates a compiled module with pooled linear
// memories. When the memory pool is at its concurrency limit the call
// returns the pool's typed capacity error, so an embedding server can
// apply backpressure instead of blocking.
func (e *Engine) InstantiateModule(ctx context.Context, compiled wazero.CompiledModule, name string) (mod api.Module, err error) {
	// The allocator hook has no error path; it panics with typed errors.
	defer func() {
		if r := recover(); r != nil {
			perr, ok := r.(*errors.Error)
			if !ok {
				panic(r)
			}
			mod, err = nil, perr
		}
	}()

	ctx = experimental.WithMemoryAllocator(ctx, e.memAlloc)
	return e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(name))
}

// Close tears down the runtime and then the pools. Every instance must be
// closed first; live pooled memories make the pool teardown fail.
func (e *Engine) Close(ctx context.Context) error {
	return multierr.Append(e.runtime.Close(ctx), e.pool.Close())
}
