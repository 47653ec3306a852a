package pool

import (
	"fmt"
	"unsafe"

	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/errors"
	"github.com/wippyai/wasm-pool/mem"
)

// memoryPool hands out the backing regions for guest linear memories. Every
// slot has the same fixed byte capacity, so growth up to the capacity never
// remaps or copies: the address space was reserved at construction and
// grow is a pure bookkeeping update.
type memoryPool struct {
	res      *mem.Reservation
	index    *indexAllocator
	gate     gate
	slotCap  uint64 // page-rounded MaxMemoryBytes
	keep     uint64
	behavior wasmpool.DecommitBehavior
}

func newMemoryPool(limits wasmpool.Limits, backend mem.Backend) (*memoryPool, error) {
	p := &memoryPool{
		slotCap:  mem.RoundUpPage(limits.MaxMemoryBytes),
		keep:     limits.KeepResidentBytes,
		behavior: limits.Decommit,
		gate:     gate{limit: limits.TotalMemories},
	}
	res, err := mem.Reserve(backend, mem.Config{
		SlotSize:   p.slotCap,
		SlotCount:  limits.TotalMemories,
		GuardBytes: 1,
	})
	if err != nil {
		return nil, errors.PlatformFailure(errors.PhaseConfigure, "memory", "reserve memories", err)
	}
	p.res = res
	p.slotCap = res.SlotSize()
	if limits.TotalMemories > 0 {
		p.index = newIndexAllocator(limits.TotalMemories)
	}
	return p, nil
}

// Memory backs one guest linear memory with grow-in-place semantics. It
// exclusively owns its slot until passed to DeallocateMemory. The handle
// is owned by a single instance and is not safe for concurrent mutation.
type Memory struct {
	pool     *memoryPool
	buf      []byte // full effective-capacity view of the slot
	size     uint64 // current size, monotonically non-decreasing
	capacity uint64 // min(slot capacity, declared maximum)
	idx      SlotIndex
	dead     bool
}

// allocate validates the guest's declared sizing against the pool's fixed
// slot geometry and binds a slot.
//
// The effective capacity is clamped to the guest's declared maximum when
// that is smaller than the slot: one fixed slot size serves guests with
// heterogeneous maxima without granting any guest more than it declared.
// A declaredMax of zero means the guest declared no maximum.
func (p *memoryPool) allocate(initial, declaredMax uint64) (*Memory, error) {
	if initial > p.slotCap {
		return nil, errors.ConfigMismatch("memory", initial, p.slotCap)
	}
	capacity := p.slotCap
	if declaredMax > 0 && declaredMax < capacity {
		capacity = declaredMax
	}
	if initial > capacity {
		return nil, errors.InvalidInput(errors.PhaseAcquire,
			fmt.Sprintf("initial memory size %d exceeds the declared maximum %d", initial, declaredMax))
	}

	if !p.gate.tryAcquire() {
		return nil, errors.CapacityExceeded("memory", p.gate.limit)
	}
	idx := p.index.acquire()
	if err := p.res.CommitSlot(uint32(idx)); err != nil {
		p.index.release(idx)
		p.gate.release()
		return nil, errors.PlatformFailure(errors.PhaseAcquire, "memory", "commit slot", err)
	}
	debugf("memory slot %d acquired (initial=%d capacity=%d)", idx, initial, capacity)

	buf := p.res.Slot(uint32(idx))[:capacity:capacity]
	return &Memory{pool: p, buf: buf, size: initial, capacity: capacity, idx: idx}, nil
}

func (p *memoryPool) deallocate(m *Memory) error {
	if m.dead {
		panic("pool: memory released twice")
	}
	m.dead = true

	idx, used := m.idx, m.size
	m.buf = nil
	if err := scrubSlot(p.res, idx, used, p.behavior, p.keep); err != nil {
		// Never return a slot that cannot be proven clean.
		return errors.PlatformFailure(errors.PhaseRelease, "memory", "scrub slot", err)
	}
	p.index.release(idx)
	p.gate.release()
	debugf("memory slot %d released", idx)
	return nil
}

func (p *memoryPool) close() error {
	return p.res.Close()
}

// Size returns the current byte size of the memory.
func (m *Memory) Size() uint64 { return m.size }

// Capacity returns the byte capacity growth may reach.
func (m *Memory) Capacity() uint64 { return m.capacity }

// Bytes returns the memory's current contents. The engine's generated code
// addresses this region directly and must emit bounds checks against the
// current size, not the capacity. The view must not be retained beyond the
// handle's lifetime.
func (m *Memory) Bytes() []byte {
	return m.buf[:m.size:m.capacity]
}

// Base returns the address of the memory's first byte. Because growth
// never remaps, the address is stable for the handle's whole lifetime;
// engines may embed it in generated code.
func (m *Memory) Base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(m.buf)))
}

// GrowTo raises the current size to n bytes without remapping or copying.
// Callers must have already bounds-checked n against Capacity; exceeding
// it here is a fatal internal-invariant failure, not a guest-triggerable
// error. GrowTo never decreases the size and is idempotent.
func (m *Memory) GrowTo(n uint64) {
	if m.dead {
		panic("pool: grow on released memory")
	}
	if n > m.capacity {
		panic(fmt.Sprintf("pool: memory grow to %d exceeds capacity %d", n, m.capacity))
	}
	if n > m.size {
		m.size = n
	}
}

// Grow attempts to raise the current size by delta bytes, returning the
// previous size and whether the request fit within the capacity. This is
// the guest-facing memory.grow path: failure is soft and mutates nothing.
func (m *Memory) Grow(delta uint64) (uint64, bool) {
	old := m.size
	if delta > m.capacity-m.size {
		return old, false
	}
	m.GrowTo(old + delta)
	return old, true
}
