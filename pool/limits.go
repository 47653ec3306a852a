package pool

import (
	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/errors"
	"github.com/wippyai/wasm-pool/mem"
)

// tableElementSize is the byte size of one table element: a single
// reference, stored as a 64-bit word.
const tableElementSize = 8

// maxReservation caps a single pool's address-space reservation. Virtual
// space is cheap on 64-bit hosts but a runaway configuration should fail
// at construction, not at mmap.
const maxReservation = 1 << 46 // 64 TiB

// Config holds the construction parameters for a PoolingAllocator. Limits
// are fixed once at construction and never mutated; every pool's slot
// count and per-slot size are derived from them.
type Config struct {
	// Limits bounds each pool's concurrency and per-slot sizing.
	Limits wasmpool.Limits

	// Backend supplies the virtual-memory primitives. Nil selects the
	// platform default (mmap on linux, heap elsewhere).
	Backend mem.Backend
}

func (c *Config) validate() error {
	l := c.Limits

	if l.MaxTableElements > maxReservation/tableElementSize {
		return errors.InvalidLimits("max table elements %d overflows the element slot size", l.MaxTableElements)
	}
	for _, s := range []struct {
		pool  string
		count uint32
		slot  uint64
	}{
		{"stack", l.TotalStacks, l.StackSize},
		{"memory", l.TotalMemories, l.MaxMemoryBytes},
		{"table", l.TotalTables, l.MaxTableElements * tableElementSize},
	} {
		// Division instead of multiplication: count*slot on absurd
		// inputs wraps uint64 and would slip past a product check.
		if s.slot > maxReservation {
			return errors.InvalidLimits("%s slot size of %d bytes exceeds the %d byte ceiling", s.pool, s.slot, uint64(maxReservation))
		}
		slot := mem.RoundUpPage(s.slot)
		if slot != 0 && uint64(s.count) > maxReservation/slot {
			return errors.InvalidLimits("%s pool reservation of %d slots x %d bytes exceeds the %d byte ceiling", s.pool, s.count, slot, uint64(maxReservation))
		}
	}
	return nil
}
