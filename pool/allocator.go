package pool

import (
	"runtime"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/errors"
	"github.com/wippyai/wasm-pool/mem"
)

// PoolingAllocator composes the stack, memory and table pools into one
// allocation unit per guest instance. It is the only type the rest of the
// engine sees; the pools behind it share nothing but their backend.
//
// All methods are safe for concurrent use from many instantiating threads.
// No method blocks: acquisition either completes or fails fast with a
// typed error, and under contention a caller may observe a capacity error
// even while another instance's release is in flight. Wait-until-available
// semantics belong to the embedder, above this layer.
type PoolingAllocator struct {
	limits   wasmpool.Limits
	stacks   *stackPool
	memories *memoryPool
	tables   *tablePool
	closed   atomic.Bool
	inflight atomic.Int32
}

// begin registers an acquisition in flight before the closed check, so
// Close can quiesce every acquisition path before it scans the gates and
// releases the reservations.
func (p *PoolingAllocator) begin(phase errors.Phase) error {
	p.inflight.Add(1)
	if p.closed.Load() {
		p.inflight.Add(-1)
		return errors.Closed(phase)
	}
	return nil
}

func (p *PoolingAllocator) end() {
	p.inflight.Add(-1)
}

// New constructs a PoolingAllocator, making every pool's address-space
// reservation up front. The configuration is fixed for the allocator's
// lifetime.
func New(cfg Config) (*PoolingAllocator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	backend := cfg.Backend
	if backend == nil {
		backend = mem.NewBackend()
	}

	stacks, err := newStackPool(cfg.Limits, backend)
	if err != nil {
		return nil, err
	}
	memories, err := newMemoryPool(cfg.Limits, backend)
	if err != nil {
		return nil, multierr.Append(err, stacks.close())
	}
	tables, err := newTablePool(cfg.Limits, backend)
	if err != nil {
		return nil, multierr.Append(err, multierr.Combine(stacks.close(), memories.close()))
	}

	p := &PoolingAllocator{
		limits:   cfg.Limits,
		stacks:   stacks,
		memories: memories,
		tables:   tables,
	}
	Logger().Info("pooling allocator constructed",
		zap.Uint32("total_stacks", cfg.Limits.TotalStacks),
		zap.Uint32("total_memories", cfg.Limits.TotalMemories),
		zap.Uint32("total_tables", cfg.Limits.TotalTables),
		zap.Uint64("stack_size", stacks.size),
		zap.Uint64("memory_slot_bytes", memories.slotCap),
		zap.Uint64("table_slot_elements", tables.slotElems),
		zap.Stringer("decommit", cfg.Limits.Decommit),
		zap.Bool("pooled_backend", backend.Pooled()),
	)
	return p, nil
}

// Limits returns the immutable configuration the allocator was built with.
func (p *PoolingAllocator) Limits() wasmpool.Limits { return p.limits }

// MemoryRequest sizes one linear memory of an instance, in bytes.
// DeclaredMax zero means the guest declared no maximum.
type MemoryRequest struct {
	Initial     uint64
	DeclaredMax uint64
}

// TableRequest sizes one element table of an instance, in elements.
type TableRequest struct {
	Initial     uint64
	DeclaredMax uint64
}

// InstanceRequest names everything one guest instantiation needs.
type InstanceRequest struct {
	NeedStack bool
	Memories  []MemoryRequest
	Tables    []TableRequest
}

// InstanceAllocation is the bundle of slots backing one live instance. It
// is created by Allocate and destroyed by Deallocate (or abandoned by
// Leak); the handles inside it never outlive the allocator.
type InstanceAllocation struct {
	stack    *Stack
	memories []*Memory
	tables   []*Table
	leaked   bool
	released bool
}

// Stack returns the instance's execution stack, or nil if none was
// requested.
func (a *InstanceAllocation) Stack() *Stack { return a.stack }

// Memories returns the instance's linear memories in request order.
func (a *InstanceAllocation) Memories() []*Memory { return a.memories }

// Tables returns the instance's element tables in request order.
func (a *InstanceAllocation) Tables() []*Table { return a.tables }

// Leak abandons every slot owned by the allocation without returning any
// of them to their pools. It exists for fatal-error unwinding only: when
// an instance's state can no longer be trusted, a permanently lost slot is
// preferable to any chance of double-allocation.
func (a *InstanceAllocation) Leak() {
	a.leaked = true
	if a.stack != nil {
		a.stack.dead = true
	}
	for _, m := range a.memories {
		m.dead = true
	}
	for _, t := range a.tables {
		t.dead = true
	}
}

// Allocate turns one instantiation request into a consistent bundle of
// stack, memory and table slots. Acquisition is all-or-nothing: if any
// constituent pool fails, every slot already acquired for this request is
// released before the error returns, leaving every pool's live count
// unchanged.
func (p *PoolingAllocator) Allocate(req InstanceRequest) (*InstanceAllocation, error) {
	if err := p.begin(errors.PhaseInstantiate); err != nil {
		return nil, err
	}
	defer p.end()

	a := &InstanceAllocation{}
	if req.NeedStack {
		s, err := p.stacks.allocate()
		if err != nil {
			return nil, err
		}
		a.stack = s
	}
	for _, mr := range req.Memories {
		m, err := p.memories.allocate(mr.Initial, mr.DeclaredMax)
		if err != nil {
			return nil, p.rollback(a, err)
		}
		a.memories = append(a.memories, m)
	}
	for _, tr := range req.Tables {
		t, err := p.tables.allocate(tr.Initial, tr.DeclaredMax)
		if err != nil {
			return nil, p.rollback(a, err)
		}
		a.tables = append(a.tables, t)
	}
	return a, nil
}

// rollback releases everything a partially satisfied request acquired. Any
// release failure is folded into the returned error; the original cause
// stays first.
func (p *PoolingAllocator) rollback(a *InstanceAllocation, cause error) error {
	err := cause
	for _, t := range a.tables {
		err = multierr.Append(err, p.tables.deallocate(t))
	}
	for _, m := range a.memories {
		err = multierr.Append(err, p.memories.deallocate(m))
	}
	if a.stack != nil {
		err = multierr.Append(err, p.stacks.deallocate(a.stack))
	}
	return err
}

// Deallocate releases every slot of the allocation back to its pool,
// applying the decommit policy before any slot re-enters a free list.
// Release errors are aggregated; the live counts are adjusted regardless.
func (p *PoolingAllocator) Deallocate(a *InstanceAllocation) error {
	if a == nil {
		return nil
	}
	if a.leaked {
		panic("pool: deallocate of a leaked instance allocation")
	}
	if a.released {
		panic("pool: instance allocation released twice")
	}
	a.released = true

	var err error
	for _, t := range a.tables {
		err = multierr.Append(err, p.tables.deallocate(t))
	}
	a.tables = nil
	for _, m := range a.memories {
		err = multierr.Append(err, p.memories.deallocate(m))
	}
	a.memories = nil
	if a.stack != nil {
		err = multierr.Append(err, p.stacks.deallocate(a.stack))
		a.stack = nil
	}
	return err
}

// AllocateStack hands out one execution stack outside of an instance
// bundle.
func (p *PoolingAllocator) AllocateStack() (*Stack, error) {
	if err := p.begin(errors.PhaseAcquire); err != nil {
		return nil, err
	}
	defer p.end()
	return p.stacks.allocate()
}

// DeallocateStack returns a stack to the pool.
func (p *PoolingAllocator) DeallocateStack(s *Stack) error {
	return p.stacks.deallocate(s)
}

// AllocateMemory hands out one linear memory outside of an instance
// bundle. Sizes are in bytes.
func (p *PoolingAllocator) AllocateMemory(initial, declaredMax uint64) (*Memory, error) {
	if err := p.begin(errors.PhaseAcquire); err != nil {
		return nil, err
	}
	defer p.end()
	return p.memories.allocate(initial, declaredMax)
}

// DeallocateMemory returns a memory to the pool.
func (p *PoolingAllocator) DeallocateMemory(m *Memory) error {
	return p.memories.deallocate(m)
}

// AllocateTable hands out one element table outside of an instance bundle.
// Sizes are in elements.
func (p *PoolingAllocator) AllocateTable(initial, declaredMax uint64) (*Table, error) {
	if err := p.begin(errors.PhaseAcquire); err != nil {
		return nil, err
	}
	defer p.end()
	return p.tables.allocate(initial, declaredMax)
}

// DeallocateTable returns a table to the pool.
func (p *PoolingAllocator) DeallocateTable(t *Table) error {
	return p.tables.deallocate(t)
}

// PoolStats is a point-in-time view of one pool's occupancy.
type PoolStats struct {
	Live  uint32
	Peak  uint32
	Limit uint32
}

// Stats snapshots every pool's occupancy. Embedders use it for
// backpressure decisions and monitoring; the counts are individually
// atomic but the snapshot as a whole is not.
type Stats struct {
	Stacks   PoolStats
	Memories PoolStats
	Tables   PoolStats
}

func poolStats(g *gate) PoolStats {
	return PoolStats{Live: g.live.Load(), Peak: g.peak.Load(), Limit: g.limit}
}

// Stats returns the current occupancy of every pool.
func (p *PoolingAllocator) Stats() Stats {
	return Stats{
		Stacks:   poolStats(&p.stacks.gate),
		Memories: poolStats(&p.memories.gate),
		Tables:   poolStats(&p.tables.gate),
	}
}

// Close releases the pools' reservations. It fails with a typed error if
// any allocation is still live; leaked slots count as live forever.
func (p *PoolingAllocator) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return errors.Closed(errors.PhaseClose)
	}
	// Quiesce: an acquisition that read closed == false must finish (and
	// show up in a gate) before the live scan, or the reservations could
	// be unmapped under a just-bound slot.
	for p.inflight.Load() != 0 {
		runtime.Gosched()
	}
	for _, g := range []struct {
		name string
		gate *gate
	}{
		{"stack", &p.stacks.gate},
		{"memory", &p.memories.gate},
		{"table", &p.tables.gate},
	} {
		if live := g.gate.live.Load(); live != 0 {
			p.closed.Store(false)
			return errors.StillLive(g.name, live)
		}
	}
	return multierr.Combine(p.stacks.close(), p.memories.close(), p.tables.close())
}
