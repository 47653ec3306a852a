package pool

import (
	stderrors "errors"
	"testing"

	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/errors"
)

func tableLimits(total uint32, elems uint64) wasmpool.Limits {
	return wasmpool.Limits{
		TotalTables:      total,
		MaxTableElements: elems,
	}
}

func TestTablePool_AllocateGrowDeallocate(t *testing.T) {
	p := newTestAllocator(t, tableLimits(2, 1024), nil)

	tbl, err := p.AllocateTable(16, 0)
	if err != nil {
		t.Fatalf("AllocateTable failed: %v", err)
	}
	if tbl.Size() != 16 {
		t.Fatalf("size = %d elements, want 16", tbl.Size())
	}
	if len(tbl.Bytes()) != 16*tableElementSize {
		t.Fatalf("Bytes length %d, want %d", len(tbl.Bytes()), 16*tableElementSize)
	}

	tbl.GrowTo(512)
	if tbl.Size() != 512 {
		t.Fatalf("size after grow = %d, want 512", tbl.Size())
	}

	if _, ok := tbl.Grow(tbl.Capacity()); ok {
		t.Fatal("growth past the element capacity should fail")
	}

	if err := p.DeallocateTable(tbl); err != nil {
		t.Fatalf("DeallocateTable failed: %v", err)
	}
	if live := p.Stats().Tables.Live; live != 0 {
		t.Fatalf("live tables %d, want 0", live)
	}
}

func TestTablePool_DeclaredMaxClamping(t *testing.T) {
	p := newTestAllocator(t, tableLimits(1, 4096), nil)

	tbl, err := p.AllocateTable(0, 64)
	if err != nil {
		t.Fatalf("AllocateTable failed: %v", err)
	}
	if tbl.Capacity() != 64 {
		t.Fatalf("capacity = %d elements, want 64", tbl.Capacity())
	}
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("GrowTo past the declared maximum should panic")
			}
		}()
		tbl.GrowTo(65)
	}()
	if err := p.DeallocateTable(tbl); err != nil {
		t.Fatalf("DeallocateTable failed: %v", err)
	}
}

func TestTablePool_InitialBeyondSlotIsConfigError(t *testing.T) {
	p := newTestAllocator(t, tableLimits(1, 100), nil)

	_, err := p.AllocateTable(1<<20, 0)
	if err == nil {
		t.Fatal("initial element count beyond the slot capacity should be rejected")
	}
	if !stderrors.Is(err, errors.ConfigMismatch("table", 0, 0)) {
		t.Fatalf("err = %v, want a configuration mismatch", err)
	}
}

func TestTablePool_CapacityExceeded(t *testing.T) {
	p := newTestAllocator(t, tableLimits(1, 128), nil)

	tbl, err := p.AllocateTable(0, 0)
	if err != nil {
		t.Fatalf("AllocateTable failed: %v", err)
	}
	if _, err := p.AllocateTable(0, 0); !errors.IsCapacity(err) {
		t.Fatalf("second allocation: err = %v, want capacity", err)
	}
	if err := p.DeallocateTable(tbl); err != nil {
		t.Fatalf("DeallocateTable failed: %v", err)
	}
}

func TestTable_ScrubbedBetweenTenants(t *testing.T) {
	p := newTestAllocator(t, tableLimits(1, 256), nil)

	tbl, err := p.AllocateTable(256, 0)
	if err != nil {
		t.Fatalf("AllocateTable failed: %v", err)
	}
	buf := tbl.Bytes()
	for i := range buf {
		buf[i] = 0xFF
	}
	if err := p.DeallocateTable(tbl); err != nil {
		t.Fatalf("DeallocateTable failed: %v", err)
	}

	tbl2, err := p.AllocateTable(256, 0)
	if err != nil {
		t.Fatalf("re-AllocateTable failed: %v", err)
	}
	for i, b := range tbl2.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %#x in recycled table, want 0", i, b)
		}
	}
	if err := p.DeallocateTable(tbl2); err != nil {
		t.Fatalf("DeallocateTable failed: %v", err)
	}
}
