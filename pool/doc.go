// Package pool implements the pooling instance allocator: fixed-size slot
// pools for execution stacks, linear memories and element tables, composed
// by a PoolingAllocator into one all-or-nothing allocation per guest
// instance.
//
// # Slots and Tickets
//
// Each pool makes one large address-space reservation at construction and
// carves it into equal-size slots. A slot is either free or allocated,
// with a scrub on the way back to free; the handle returned by an
// allocate call (Stack, Memory, Table) exclusively owns its slot, and
// releasing the handle through the pool is the only way the slot returns
// to Free. A slot is never owned by two live handles: that is the central
// isolation invariant of the subsystem, and violations panic rather than
// propagate as errors.
//
// # Capacity
//
// Each pool's live count is one atomic counter compared against the
// configured limit. Exceeding it yields a typed, recoverable capacity
// error (see the errors package); the pool never blocks or retries. Under
// contention a caller can be refused even though a release is concurrently
// in flight, which is the documented cost of lock-free admission.
//
// # Decommit
//
// Before a slot re-enters a free list its used extent is scrubbed per the
// configured DecommitBehavior, so re-acquiring a previously used slot
// always reads as zero regardless of what the previous occupant wrote.
//
// # Fallback Backends
//
// On backends without real address-space mappings the stack pool still
// enforces its concurrency limit but delegates the actual allocation to
// the general-purpose allocator per call and recycles nothing. This is a
// deliberate policy: admission control is decoupled from physical pooling.
package pool
