// Package mem provides the virtual-memory layer under the pools: one large
// contiguous reservation per pool, carved into fixed-stride slots, with
// page-granular commit, decommit and protect primitives.
//
// # Backends
//
// A Backend is the small capability surface the pools consume:
//
//	Reserve   map inaccessible address space
//	Commit    make a range readable and writable
//	Decommit  drop a range's physical pages, leaving the range reserved
//	Protect   remove all access from a range
//	Release   unmap an entire reservation
//
// Two implementations exist. The linux backend maps real address space
// with mmap: reservations are PROT_NONE until committed, decommit is
// MADV_DONTNEED (the next access observes fresh zero pages), and guard
// regions between slots stay inaccessible so a slot overrun faults instead
// of reaching its neighbor. The heap backend is the fallback everywhere
// else, including darwin and the BSDs where MADV_DONTNEED is advisory and
// gives no zero-fill guarantee: a plain byte slice with no protection,
// where decommit degrades to zeroing and Pooled reports false so the
// stack pool knows its slots are not really recycled.
//
// # Reservations
//
// A Reservation is made once at pool construction and never resized. Slot
// size and guard size are rounded up to the platform page size; the
// reservation outlives every slot view handed out from it.
package mem
