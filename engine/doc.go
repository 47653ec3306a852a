// Package engine wires the pooling allocator into wazero.
//
// Engine owns one wazero runtime and one PoolingAllocator. Linear memories
// are served to wazero through its experimental MemoryAllocator hook, so
// instantiating a module binds a pooled slot and closing the instance
// returns the slot, scrubbed, to the pool.
//
//	eng, err := engine.New(ctx, &engine.Config{Limits: limits})
//	compiled, err := eng.CompileModule(ctx, wasmBytes)
//	mod, err := eng.InstantiateModule(ctx, compiled, "worker-1")
//	defer mod.Close(ctx)
//
// A module whose declared memory minimum cannot fit the configured slot
// capacity is rejected by CompileModule; an instantiation beyond the
// configured concurrency limit returns a typed capacity error for
// backpressure. Guest memory.grow past the slot (or declared) capacity
// fails softly inside the guest, exactly as if the memory had reached its
// declared maximum.
package engine
