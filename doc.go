// Package wasmpool provides the pooling instance allocator for a
// WebAssembly execution engine: the subsystem that reserves large
// virtual-address-space slabs up front, slices them into fixed-size slots,
// and hands those slots out as the linear memories, element tables, and
// execution stacks backing running guest instances.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	wasmpool/      Root package with Limits and DecommitBehavior
//	├── pool/      Stack, memory and table pools plus the coordinating
//	│              PoolingAllocator
//	├── mem/       Platform virtual-memory layer: reserve, commit,
//	│              decommit and protect over one large reservation
//	├── engine/    wazero integration: pooled linear memories behind
//	│              wazero's experimental MemoryAllocator hook
//	└── errors/    Structured error types for debugging
//
// # Quick Start
//
// Construct one allocator per engine and allocate per instance:
//
//	p, err := pool.New(pool.Config{Limits: wasmpool.DefaultLimits()})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	alloc, err := p.Allocate(pool.InstanceRequest{
//	    NeedStack: true,
//	    Memories:  []pool.MemoryRequest{{Initial: 65536, DeclaredMax: 1 << 20}},
//	    Tables:    []pool.TableRequest{{Initial: 0, DeclaredMax: 1024}},
//	})
//	if err != nil {
//	    // Typed capacity errors mean "too many concurrent instances";
//	    // apply backpressure and retry after a release.
//	}
//	defer p.Deallocate(alloc)
//
// # Capacity Model
//
// Every pool enforces a hard limit on concurrently live allocations with a
// single atomic counter. Exceeding the limit is a recoverable, typed error
// reported to the immediate caller; the pool never blocks, queues or
// retries internally. Callers that want wait-until-available semantics
// implement that policy above this layer.
//
// # Isolation Model
//
// A slot is owned by at most one live handle at a time. Between tenants the
// slot's bytes are scrubbed according to the configured DecommitBehavior,
// so a new occupant always observes zeroed memory regardless of what the
// previous occupant wrote.
//
// # Thread Safety
//
// The PoolingAllocator and every pool are safe for concurrent use. The
// handles they return (Stack, Memory, Table) are owned by a single
// instance and are NOT safe for concurrent mutation.
package wasmpool
