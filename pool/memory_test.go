package pool

import (
	stderrors "errors"
	"testing"

	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/errors"
)

func memoryLimits(total uint32, slotBytes uint64) wasmpool.Limits {
	return wasmpool.Limits{
		TotalMemories:  total,
		MaxMemoryBytes: slotBytes,
	}
}

// The reference scenario: one 64 KiB memory slot serving successive
// tenants with growth in between.
func TestMemoryPool_Scenario(t *testing.T) {
	p := newTestAllocator(t, memoryLimits(1, 65536), nil)

	a, err := p.AllocateMemory(0, 65536)
	if err != nil {
		t.Fatalf("allocate A failed: %v", err)
	}
	if a.Size() != 0 {
		t.Fatalf("A size = %d, want 0", a.Size())
	}

	a.GrowTo(65536)
	if a.Size() != 65536 {
		t.Fatalf("A size after grow = %d, want 65536", a.Size())
	}
	if len(a.Bytes()) != 65536 {
		t.Fatalf("A addressable bytes = %d, want 65536", len(a.Bytes()))
	}
	a.Bytes()[65535] = 1

	if _, err := p.AllocateMemory(0, 65536); !errors.IsCapacity(err) {
		t.Fatalf("allocate B while A live: err = %v, want capacity", err)
	}

	if err := p.DeallocateMemory(a); err != nil {
		t.Fatalf("deallocate A failed: %v", err)
	}
	b, err := p.AllocateMemory(65536, 65536)
	if err != nil {
		t.Fatalf("allocate B after release failed: %v", err)
	}
	if b.Size() != 65536 {
		t.Fatalf("B size = %d, want 65536", b.Size())
	}
	if err := p.DeallocateMemory(b); err != nil {
		t.Fatalf("deallocate B failed: %v", err)
	}
}

func TestMemory_GrowSemantics(t *testing.T) {
	p := newTestAllocator(t, memoryLimits(1, 1<<20), nil)

	m, err := p.AllocateMemory(4096, 0)
	if err != nil {
		t.Fatalf("AllocateMemory failed: %v", err)
	}
	defer func() {
		if err := p.DeallocateMemory(m); err != nil {
			t.Fatalf("DeallocateMemory failed: %v", err)
		}
	}()

	cap := m.Capacity()
	base := m.Base()

	// Idempotent
	m.GrowTo(8192)
	m.GrowTo(8192)
	if m.Size() != 8192 {
		t.Fatalf("size = %d after repeated GrowTo(8192)", m.Size())
	}
	if m.Base() != base {
		t.Fatal("growth moved the backing memory")
	}

	// Never decreases
	m.GrowTo(4096)
	if m.Size() != 8192 {
		t.Fatalf("GrowTo with a smaller value changed size to %d", m.Size())
	}

	// To capacity succeeds
	m.GrowTo(cap)
	if m.Size() != cap {
		t.Fatalf("size = %d after GrowTo(capacity)", m.Size())
	}

	// Checked path fails softly past capacity, mutating nothing
	if _, ok := m.Grow(1); ok {
		t.Fatal("Grow(1) at capacity should fail")
	}
	if m.Size() != cap {
		t.Fatalf("failed Grow mutated size to %d", m.Size())
	}

	// Unchecked path past capacity is a fatal invariant violation
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("GrowTo(capacity+1) should panic")
			}
		}()
		m.GrowTo(cap + 1)
	}()
	if m.Size() != cap {
		t.Fatalf("panicking GrowTo mutated size to %d", m.Size())
	}
}

func TestMemory_DeclaredMaxClamping(t *testing.T) {
	p := newTestAllocator(t, memoryLimits(2, 1<<20), nil)

	// A guest declaring a smaller maximum than the slot is clamped to its
	// declaration.
	m, err := p.AllocateMemory(0, 65536)
	if err != nil {
		t.Fatalf("AllocateMemory failed: %v", err)
	}
	if m.Capacity() != 65536 {
		t.Fatalf("capacity = %d, want 65536", m.Capacity())
	}
	if _, ok := m.Grow(65537); ok {
		t.Fatal("growth past the declared maximum should fail")
	}
	if err := p.DeallocateMemory(m); err != nil {
		t.Fatalf("DeallocateMemory failed: %v", err)
	}

	// No declared maximum gets the whole slot.
	m2, err := p.AllocateMemory(0, 0)
	if err != nil {
		t.Fatalf("AllocateMemory failed: %v", err)
	}
	if m2.Capacity() < 1<<20 {
		t.Fatalf("capacity = %d, want at least %d", m2.Capacity(), 1<<20)
	}
	if err := p.DeallocateMemory(m2); err != nil {
		t.Fatalf("DeallocateMemory failed: %v", err)
	}
}

func TestMemory_InitialBeyondSlotIsConfigError(t *testing.T) {
	p := newTestAllocator(t, memoryLimits(1, 65536), nil)

	_, err := p.AllocateMemory(1<<20, 0)
	if err == nil {
		t.Fatal("initial size beyond the slot capacity should be rejected")
	}
	if !stderrors.Is(err, errors.ConfigMismatch("memory", 0, 0)) {
		t.Fatalf("err = %v, want a configuration mismatch", err)
	}
	// A configuration error must not consume capacity.
	if live := p.Stats().Memories.Live; live != 0 {
		t.Fatalf("live = %d after rejected allocation, want 0", live)
	}
}

func TestMemory_InitialBeyondDeclaredMax(t *testing.T) {
	p := newTestAllocator(t, memoryLimits(1, 1<<20), nil)

	if _, err := p.AllocateMemory(8192, 4096); err == nil {
		t.Fatal("initial size beyond the declared maximum should be rejected")
	}
}

// Isolation: after decommit, a recycled slot reads as zero even when the
// previous occupant wrote adversarial content.
func TestMemory_DecommitCleanliness(t *testing.T) {
	for _, tt := range []struct {
		name   string
		limits wasmpool.Limits
	}{
		{"zero_in_place", wasmpool.Limits{
			TotalMemories:     1,
			MaxMemoryBytes:    128 << 10,
			Decommit:          wasmpool.DecommitZero,
			KeepResidentBytes: 1 << 20,
		}},
		{"zero_past_threshold", wasmpool.Limits{
			TotalMemories:     1,
			MaxMemoryBytes:    128 << 10,
			Decommit:          wasmpool.DecommitZero,
			KeepResidentBytes: 4096,
		}},
		{"restore_mapping", wasmpool.Limits{
			TotalMemories:  1,
			MaxMemoryBytes: 128 << 10,
			Decommit:       wasmpool.DecommitRestoreMapping,
		}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestAllocator(t, tt.limits, nil)

			m, err := p.AllocateMemory(128<<10, 0)
			if err != nil {
				t.Fatalf("AllocateMemory failed: %v", err)
			}
			buf := m.Bytes()
			for i := range buf {
				buf[i] = 0xFF
			}
			if err := p.DeallocateMemory(m); err != nil {
				t.Fatalf("DeallocateMemory failed: %v", err)
			}

			m2, err := p.AllocateMemory(128<<10, 0)
			if err != nil {
				t.Fatalf("re-AllocateMemory failed: %v", err)
			}
			for i, b := range m2.Bytes() {
				if b != 0 {
					t.Fatalf("byte %d = %#x in recycled memory, want 0", i, b)
				}
			}
			if err := p.DeallocateMemory(m2); err != nil {
				t.Fatalf("DeallocateMemory failed: %v", err)
			}
		})
	}
}
