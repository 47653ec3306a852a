package pool

import (
	"fmt"
	"sync/atomic"
)

// SlotIndex identifies one fixed-size slot within a pool's reservation.
type SlotIndex uint32

const (
	slotFree uint32 = iota
	slotAllocated
)

// indexAllocator is a lock-free stack of free slot indices. It guarantees
// mutual exclusion on a single index; capacity admission is the pool's
// gate, not the free list. Callers must hold a gate token before acquire,
// and must push back (release) before returning their token, which keeps
// the list non-empty for every admitted caller.
type indexAllocator struct {
	head  atomic.Pointer[freeNode]
	state []atomic.Uint32
}

type freeNode struct {
	next *freeNode
	idx  SlotIndex
}

func newIndexAllocator(count uint32) *indexAllocator {
	a := &indexAllocator{state: make([]atomic.Uint32, count)}
	// Push in reverse so low indices are handed out first.
	for i := int(count) - 1; i >= 0; i-- {
		a.push(&freeNode{idx: SlotIndex(i)})
	}
	return a
}

func (a *indexAllocator) push(n *freeNode) {
	for {
		old := a.head.Load()
		n.next = old
		if a.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// acquire pops a free index. The caller must hold a gate token.
func (a *indexAllocator) acquire() SlotIndex {
	for {
		top := a.head.Load()
		if top == nil {
			// A held gate token guarantees a free index; an empty list
			// means the token accounting is corrupted.
			panic("pool: free list empty under capacity limit")
		}
		if !a.head.CompareAndSwap(top, top.next) {
			continue
		}
		if !a.state[top.idx].CompareAndSwap(slotFree, slotAllocated) {
			panic(fmt.Sprintf("pool: slot %d popped from free list while allocated", top.idx))
		}
		return top.idx
	}
}

// release returns idx to the free list. Releasing an index that is not
// currently allocated can only happen from an internal bug, never from
// guest-controlled input, and is fatal.
func (a *indexAllocator) release(idx SlotIndex) {
	if !a.state[idx].CompareAndSwap(slotAllocated, slotFree) {
		panic(fmt.Sprintf("pool: slot %d released while not allocated", idx))
	}
	// Fresh node per release: a node address never re-enters the list
	// while a concurrent pop still holds it, so the CAS pop cannot ABA.
	a.push(&freeNode{idx: idx})
}

// gate enforces a pool's concurrency limit with a single atomic counter,
// the sole source of truth for capacity. The live count never exceeds the
// limit at any observable instant.
type gate struct {
	live  atomic.Uint32
	peak  atomic.Uint32
	limit uint32
}

// tryAcquire takes a capacity token, failing fast when the pool is full.
func (g *gate) tryAcquire() bool {
	for {
		n := g.live.Load()
		if n >= g.limit {
			return false
		}
		if g.live.CompareAndSwap(n, n+1) {
			g.notePeak(n + 1)
			return true
		}
	}
}

func (g *gate) release() {
	for {
		n := g.live.Load()
		if n == 0 {
			panic("pool: live count underflow")
		}
		if g.live.CompareAndSwap(n, n-1) {
			return
		}
	}
}

func (g *gate) notePeak(n uint32) {
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}
