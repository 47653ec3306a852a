package engine

import (
	"context"
	stderrors "errors"
	"testing"

	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/errors"
)

// minimalMemoryModule is a core module declaring one memory with
// min=1 page, max=4 pages, exported as "memory".
var minimalMemoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // \0asm
	0x01, 0x00, 0x00, 0x00, // version 1
	0x05, 0x04, // memory section
	0x01,             // one memory
	0x01, 0x01, 0x04, // limits: min 1, max 4
	0x07, 0x0a, // export section
	0x01,                               // one export
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', // name
	0x02, 0x00, // memory index 0
}

// hugeMinModule declares a memory with min=100 pages and no maximum.
var hugeMinModule = []byte{
	0x00, 0x61, 0x73, 0x6d,
	0x01, 0x00, 0x00, 0x00,
	0x05, 0x03, // memory section
	0x01,       // one memory
	0x00, 0x64, // limits: min 100, no max
	0x07, 0x0a,
	0x01,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y',
	0x02, 0x00,
}

func testLimits(totalMemories uint32, slotBytes uint64) wasmpool.Limits {
	return wasmpool.Limits{
		TotalMemories:    totalMemories,
		TotalStacks:      totalMemories,
		TotalTables:      totalMemories,
		StackSize:        64 << 10,
		MaxTableElements: 128,
		MaxMemoryBytes:   slotBytes,
	}
}

func newTestEngine(t *testing.T, limits wasmpool.Limits) *Engine {
	t.Helper()
	ctx := context.Background()
	eng, err := New(ctx, &Config{Limits: limits})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		if err := eng.Close(ctx); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return eng
}

func TestEngine_PooledInstantiation(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, testLimits(2, 8*wasmPageSize))

	compiled, err := eng.CompileModule(ctx, minimalMemoryModule)
	if err != nil {
		t.Fatalf("CompileModule failed: %v", err)
	}

	mod, err := eng.InstantiateModule(ctx, compiled, "guest-1")
	if err != nil {
		t.Fatalf("InstantiateModule failed: %v", err)
	}

	if live := eng.Pool().Stats().Memories.Live; live != 1 {
		t.Fatalf("live memories = %d after instantiation, want 1", live)
	}

	m := mod.Memory()
	if m == nil {
		t.Fatal("module has no exported memory")
	}
	if !m.WriteByte(0, 0xAB) {
		t.Fatal("write to pooled memory failed")
	}
	if b, ok := m.ReadByte(0); !ok || b != 0xAB {
		t.Fatalf("read back %#x, %v", b, ok)
	}

	// Growth within the declared maximum is in place.
	if _, ok := m.Grow(1); !ok {
		t.Fatal("memory.grow within the declared maximum failed")
	}
	if m.Size() != 2*wasmPageSize {
		t.Fatalf("size = %d after grow, want %d", m.Size(), 2*wasmPageSize)
	}

	if err := mod.Close(ctx); err != nil {
		t.Fatalf("module Close failed: %v", err)
	}
	if live := eng.Pool().Stats().Memories.Live; live != 0 {
		t.Fatalf("live memories = %d after close, want 0", live)
	}
}

func TestEngine_CapacityBackpressure(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, testLimits(1, 8*wasmPageSize))

	compiled, err := eng.CompileModule(ctx, minimalMemoryModule)
	if err != nil {
		t.Fatalf("CompileModule failed: %v", err)
	}

	mod, err := eng.InstantiateModule(ctx, compiled, "guest-1")
	if err != nil {
		t.Fatalf("first InstantiateModule failed: %v", err)
	}

	_, err = eng.InstantiateModule(ctx, compiled, "guest-2")
	if !errors.IsCapacity(err) {
		t.Fatalf("second instantiation: err = %v, want capacity", err)
	}

	// Releasing the first instance frees the slot for the next tenant.
	if err := mod.Close(ctx); err != nil {
		t.Fatalf("module Close failed: %v", err)
	}
	mod2, err := eng.InstantiateModule(ctx, compiled, "guest-3")
	if err != nil {
		t.Fatalf("instantiation after release failed: %v", err)
	}
	if err := mod2.Close(ctx); err != nil {
		t.Fatalf("module Close failed: %v", err)
	}
}

func TestEngine_GrowStopsAtSlotCapacity(t *testing.T) {
	ctx := context.Background()
	// Two-page slots: the guest's view of its maximum is clamped.
	eng := newTestEngine(t, testLimits(1, 2*wasmPageSize))

	compiled, err := eng.CompileModule(ctx, minimalMemoryModule)
	if err != nil {
		t.Fatalf("CompileModule failed: %v", err)
	}
	mod, err := eng.InstantiateModule(ctx, compiled, "guest")
	if err != nil {
		t.Fatalf("InstantiateModule failed: %v", err)
	}
	defer mod.Close(ctx)

	m := mod.Memory()
	if _, ok := m.Grow(1); !ok {
		t.Fatal("growth to the slot capacity should succeed")
	}
	if _, ok := m.Grow(1); ok {
		t.Fatal("growth past the slot capacity should fail softly")
	}
	if m.Size() != 2*wasmPageSize {
		t.Fatalf("size = %d after failed grow, want %d", m.Size(), 2*wasmPageSize)
	}
}

func TestEngine_CompileRejectsOversizedModule(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, testLimits(1, 2*wasmPageSize))

	_, err := eng.CompileModule(ctx, hugeMinModule)
	if err == nil {
		t.Fatal("module needing 100 pages should be refused by 2-page slots")
	}
	var perr *errors.Error
	if !stderrors.As(err, &perr) || perr.Kind != errors.KindConfiguration {
		t.Fatalf("err = %v, want a configuration error", err)
	}
}
