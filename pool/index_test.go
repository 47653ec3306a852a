package pool

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestIndexAllocator_HandsOutEveryIndexOnce(t *testing.T) {
	const count = 64
	ia := newIndexAllocator(count)

	seen := make(map[SlotIndex]bool)
	for i := 0; i < count; i++ {
		idx := ia.acquire()
		if seen[idx] {
			t.Fatalf("index %d handed out twice", idx)
		}
		seen[idx] = true
	}
	if len(seen) != count {
		t.Fatalf("got %d distinct indices, want %d", len(seen), count)
	}
}

func TestIndexAllocator_DoubleReleasePanics(t *testing.T) {
	ia := newIndexAllocator(4)
	idx := ia.acquire()
	ia.release(idx)

	defer func() {
		if recover() == nil {
			t.Fatal("second release of the same index should panic")
		}
	}()
	ia.release(idx)
}

func TestGate_EnforcesLimit(t *testing.T) {
	g := gate{limit: 3}
	for i := 0; i < 3; i++ {
		if !g.tryAcquire() {
			t.Fatalf("acquire %d should succeed", i)
		}
	}
	if g.tryAcquire() {
		t.Fatal("acquire past the limit should fail")
	}
	g.release()
	if !g.tryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
	if got := g.peak.Load(); got != 3 {
		t.Fatalf("peak = %d, want 3", got)
	}
}

func TestGate_UnderflowPanics(t *testing.T) {
	g := gate{limit: 1}
	defer func() {
		if recover() == nil {
			t.Fatal("release without acquire should panic")
		}
	}()
	g.release()
}

// Exclusive ownership: across any number of goroutines, no index is ever
// observed allocated by two holders simultaneously.
func TestIndexAllocator_ConcurrentExclusiveOwnership(t *testing.T) {
	const (
		limit   = 16
		workers = 64
		rounds  = 500
	)
	g := gate{limit: limit}
	ia := newIndexAllocator(limit)
	owned := make([]atomic.Bool, limit)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				if !g.tryAcquire() {
					continue
				}
				idx := ia.acquire()
				if !owned[idx].CompareAndSwap(false, true) {
					t.Errorf("index %d owned by two holders", idx)
					return
				}
				owned[idx].Store(false)
				ia.release(idx)
				g.release()
			}
		}()
	}
	wg.Wait()

	if live := g.live.Load(); live != 0 {
		t.Fatalf("live count %d after all releases, want 0", live)
	}
	// Every index must be back in the free list.
	seen := 0
	for n := ia.head.Load(); n != nil; n = n.next {
		seen++
	}
	if seen != limit {
		t.Fatalf("free list holds %d indices, want %d", seen, limit)
	}
}
