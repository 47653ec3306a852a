package pool

import (
	"fmt"

	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/errors"
	"github.com/wippyai/wasm-pool/mem"
)

// tablePool hands out the backing regions for guest element tables. It
// mirrors the memory pool with element-sized slots: every slot holds
// MaxTableElements references and growth up to that capacity is a pure
// bookkeeping update.
type tablePool struct {
	res       *mem.Reservation
	index     *indexAllocator
	gate      gate
	slotElems uint64
	keep      uint64
	behavior  wasmpool.DecommitBehavior
}

func newTablePool(limits wasmpool.Limits, backend mem.Backend) (*tablePool, error) {
	p := &tablePool{
		keep:     limits.KeepResidentBytes,
		behavior: limits.Decommit,
		gate:     gate{limit: limits.TotalTables},
	}
	res, err := mem.Reserve(backend, mem.Config{
		SlotSize:   limits.MaxTableElements * tableElementSize,
		SlotCount:  limits.TotalTables,
		GuardBytes: 1,
	})
	if err != nil {
		return nil, errors.PlatformFailure(errors.PhaseConfigure, "table", "reserve tables", err)
	}
	p.res = res
	p.slotElems = res.SlotSize() / tableElementSize
	if limits.TotalTables > 0 {
		p.index = newIndexAllocator(limits.TotalTables)
	}
	return p, nil
}

// Table backs one guest element table. It exclusively owns its slot until
// passed to DeallocateTable. Sizes are in elements, not bytes.
type Table struct {
	pool     *tablePool
	buf      []byte // full effective-capacity view of the slot
	size     uint64 // current element count, monotonically non-decreasing
	capacity uint64 // min(slot capacity, declared maximum), in elements
	idx      SlotIndex
	dead     bool
}

// allocate mirrors the memory pool's validation and clamping, counted in
// elements of the table's reference type.
func (p *tablePool) allocate(initial, declaredMax uint64) (*Table, error) {
	if initial > p.slotElems {
		return nil, errors.ConfigMismatch("table", initial, p.slotElems)
	}
	capacity := p.slotElems
	if declaredMax > 0 && declaredMax < capacity {
		capacity = declaredMax
	}
	if initial > capacity {
		return nil, errors.InvalidInput(errors.PhaseAcquire,
			fmt.Sprintf("initial table size %d exceeds the declared maximum %d", initial, declaredMax))
	}

	if !p.gate.tryAcquire() {
		return nil, errors.CapacityExceeded("table", p.gate.limit)
	}
	idx := p.index.acquire()
	if err := p.res.CommitSlot(uint32(idx)); err != nil {
		p.index.release(idx)
		p.gate.release()
		return nil, errors.PlatformFailure(errors.PhaseAcquire, "table", "commit slot", err)
	}
	debugf("table slot %d acquired (initial=%d capacity=%d)", idx, initial, capacity)

	buf := p.res.Slot(uint32(idx))[: capacity*tableElementSize : capacity*tableElementSize]
	return &Table{pool: p, buf: buf, size: initial, capacity: capacity, idx: idx}, nil
}

func (p *tablePool) deallocate(t *Table) error {
	if t.dead {
		panic("pool: table released twice")
	}
	t.dead = true

	idx, used := t.idx, t.size*tableElementSize
	t.buf = nil
	if err := scrubSlot(p.res, idx, used, p.behavior, p.keep); err != nil {
		return errors.PlatformFailure(errors.PhaseRelease, "table", "scrub slot", err)
	}
	p.index.release(idx)
	p.gate.release()
	debugf("table slot %d released", idx)
	return nil
}

func (p *tablePool) close() error {
	return p.res.Close()
}

// Size returns the current element count.
func (t *Table) Size() uint64 { return t.size }

// Capacity returns the element capacity growth may reach.
func (t *Table) Capacity() uint64 { return t.capacity }

// Bytes returns the table's current contents, tableElementSize bytes per
// element. The view must not be retained beyond the handle's lifetime.
func (t *Table) Bytes() []byte {
	return t.buf[: t.size*tableElementSize : t.capacity*tableElementSize]
}

// GrowTo raises the current element count to n. Callers must have already
// bounds-checked n against Capacity; exceeding it here is a fatal
// internal-invariant failure.
func (t *Table) GrowTo(n uint64) {
	if t.dead {
		panic("pool: grow on released table")
	}
	if n > t.capacity {
		panic(fmt.Sprintf("pool: table grow to %d exceeds capacity %d", n, t.capacity))
	}
	if n > t.size {
		t.size = n
	}
}

// Grow attempts to add delta elements, returning the previous element
// count and whether the request fit within the capacity.
func (t *Table) Grow(delta uint64) (uint64, bool) {
	old := t.size
	if delta > t.capacity-t.size {
		return old, false
	}
	t.GrowTo(old + delta)
	return old, true
}
