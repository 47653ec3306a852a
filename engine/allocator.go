package engine

import (
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-pool/pool"
)

// NewMemoryAllocator adapts a PoolingAllocator to wazero's experimental
// MemoryAllocator hook, so every linear memory wazero creates is backed by
// a pooled slot with grow-in-place semantics.
//
// The hook has no error path: a capacity or configuration failure panics
// with the pool's typed error. Engine.InstantiateModule converts that
// panic back into an error; embedders wiring the allocator into a context
// themselves (experimental.WithMemoryAllocator) must do the same or treat
// it as fatal.
func NewMemoryAllocator(p *pool.PoolingAllocator) experimental.MemoryAllocator {
	return &memoryAllocator{pool: p}
}

type memoryAllocator struct {
	pool *pool.PoolingAllocator
}

// Allocate acquires a pooled slot for a linear memory. min and max are the
// byte sizes wazero derived from the module's memory type; a max beyond
// the slot capacity is clamped by the pool, and wazero then observes grow
// failures past the clamp.
func (a *memoryAllocator) Allocate(min, max uint64) experimental.LinearMemory {
	m, err := a.pool.AllocateMemory(min, max)
	if err != nil {
		panic(err)
	}
	return &pooledMemory{pool: a.pool, mem: m}
}

// pooledMemory is the experimental.LinearMemory view over one pooled slot.
// The backing address never changes: growth is a size update inside the
// already-reserved slot.
type pooledMemory struct {
	pool *pool.PoolingAllocator
	mem  *pool.Memory
}

func (m *pooledMemory) Reallocate(size uint64) []byte {
	if size > m.mem.Capacity() {
		// Soft failure: wazero turns a nil buffer into a failed
		// memory.grow, never a trap of an unrelated instance.
		return nil
	}
	m.mem.GrowTo(size)
	return m.mem.Bytes()[:size]
}

func (m *pooledMemory) Free() {
	if m.mem == nil {
		return
	}
	if err := m.pool.DeallocateMemory(m.mem); err != nil {
		Logger().Warn("deallocate pooled memory", zap.Error(err))
	}
	m.mem = nil
}
