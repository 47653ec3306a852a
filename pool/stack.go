package pool

import (
	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/errors"
	"github.com/wippyai/wasm-pool/mem"
)

// stackPool hands out the fixed-size execution stacks used for fiber-style
// suspend and resume of guest computations.
//
// On pooled backends stacks are slots in one reservation, separated by
// inaccessible guard pages, and are scrubbed between tenants. On the heap
// fallback the pool only enforces the concurrency counter: each stack is a
// fresh allocation from the general-purpose allocator and deallocation is
// pure accounting. Capacity enforcement is deliberately decoupled from
// physical recycling.
type stackPool struct {
	res      *mem.Reservation // nil when size is zero or the backend is unpooled
	index    *indexAllocator
	gate     gate
	size     uint64 // usable bytes per stack, page rounded
	keep     uint64
	behavior wasmpool.DecommitBehavior
	pooled   bool
}

func newStackPool(limits wasmpool.Limits, backend mem.Backend) (*stackPool, error) {
	p := &stackPool{
		size:     mem.RoundUpPage(limits.StackSize),
		keep:     limits.KeepResidentBytes,
		behavior: limits.Decommit,
		gate:     gate{limit: limits.TotalStacks},
		pooled:   backend.Pooled(),
	}
	if p.size == 0 || !p.pooled {
		return p, nil
	}

	res, err := mem.Reserve(backend, mem.Config{
		SlotSize:   p.size,
		SlotCount:  limits.TotalStacks,
		GuardBytes: 1,
	})
	if err != nil {
		return nil, errors.PlatformFailure(errors.PhaseConfigure, "stack", "reserve stacks", err)
	}
	p.res = res
	p.size = res.SlotSize()
	p.index = newIndexAllocator(limits.TotalStacks)
	return p, nil
}

// Stack is an execution stack handle. It exclusively owns its slot until
// passed to DeallocateStack; a handle must not be used after release.
type Stack struct {
	pool   *stackPool
	buf    []byte
	idx    SlotIndex
	pooled bool
	dead   bool
}

// Bytes returns the full stack region. The view is only valid while the
// handle is live.
func (s *Stack) Bytes() []byte { return s.buf }

// Size returns the usable stack size in bytes.
func (s *Stack) Size() uint64 { return uint64(len(s.buf)) }

func (p *stackPool) allocate() (*Stack, error) {
	if p.size == 0 {
		return nil, errors.Unsupported("stack", "stack allocation not supported: configured stack size is zero")
	}
	if !p.gate.tryAcquire() {
		return nil, errors.CapacityExceeded("stack", p.gate.limit)
	}

	if !p.pooled {
		return &Stack{pool: p, buf: make([]byte, p.size)}, nil
	}

	idx := p.index.acquire()
	if err := p.res.CommitSlot(uint32(idx)); err != nil {
		// Platform failure below the configured limit: roll back the
		// live-count increment so it is not mistaken for capacity.
		p.index.release(idx)
		p.gate.release()
		return nil, errors.PlatformFailure(errors.PhaseAcquire, "stack", "commit slot", err)
	}
	debugf("stack slot %d acquired", idx)
	return &Stack{pool: p, idx: idx, buf: p.res.Slot(uint32(idx)), pooled: true}, nil
}

func (p *stackPool) deallocate(s *Stack) error {
	if s.dead {
		panic("pool: stack released twice")
	}
	s.dead = true

	if !s.pooled {
		s.buf = nil
		p.gate.release()
		return nil
	}

	idx := s.idx
	s.buf = nil
	if err := p.scrub(idx); err != nil {
		// The slot cannot be proven clean, so it never re-enters the
		// free list: leak it rather than risk leaking one tenant's bytes
		// into the next.
		return errors.PlatformFailure(errors.PhaseRelease, "stack", "scrub slot", err)
	}
	p.index.release(idx)
	p.gate.release()
	debugf("stack slot %d released", idx)
	return nil
}

func (p *stackPool) scrub(idx SlotIndex) error {
	// A guest may have written anywhere in its stack, so the used extent
	// is the whole slot.
	if err := scrubSlot(p.res, idx, p.size, p.behavior, p.keep); err != nil {
		return err
	}
	if p.behavior == wasmpool.DecommitRestoreMapping {
		// Stale stack slots stay inaccessible until reuse.
		return p.res.ProtectSlot(uint32(idx))
	}
	return nil
}

func (p *stackPool) close() error {
	if p.res == nil {
		return nil
	}
	return p.res.Close()
}
