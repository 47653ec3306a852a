package wasmpool

import (
	"fmt"
	"strings"
)

// DecommitBehavior selects how a released slot's memory is returned to a
// clean state before the slot re-enters the free list.
type DecommitBehavior uint8

const (
	// DecommitZero overwrites the slot's used bytes with zeros, keeping the
	// pages resident. Cheapest for small working sets.
	DecommitZero DecommitBehavior = iota

	// DecommitRestoreMapping tells the OS to drop the slot's physical pages
	// so the next access observes fresh zero pages. Cheapest for large
	// working sets; falls back to zeroing on backends without real mappings.
	DecommitRestoreMapping
)

// String returns the configuration-surface spelling of the behavior.
func (d DecommitBehavior) String() string {
	switch d {
	case DecommitZero:
		return "zero"
	case DecommitRestoreMapping:
		return "restore_original_mapping"
	default:
		return fmt.Sprintf("decommit(%d)", uint8(d))
	}
}

// ParseDecommitBehavior converts a configuration string to a behavior.
func ParseDecommitBehavior(s string) (DecommitBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zero", "":
		return DecommitZero, nil
	case "restore_original_mapping", "restore":
		return DecommitRestoreMapping, nil
	default:
		return 0, fmt.Errorf("unknown decommit behavior %q", s)
	}
}

// Limits fixes the capacity of every pool. All values are set once at
// allocator construction and never mutated; every pool's slot count and
// per-slot size are derived from them.
type Limits struct {
	// TotalStacks bounds concurrently live execution stacks.
	TotalStacks uint32

	// TotalMemories bounds concurrently live linear memories.
	TotalMemories uint32

	// TotalTables bounds concurrently live element tables.
	TotalTables uint32

	// StackSize is the usable byte size of each pooled stack.
	// Zero disables stack allocation entirely.
	StackSize uint64

	// MaxMemoryBytes is the byte capacity of each memory slot. A guest
	// declaring a smaller maximum is clamped to its own declaration; a
	// guest needing more is rejected at allocation time.
	MaxMemoryBytes uint64

	// MaxTableElements is the element capacity of each table slot.
	MaxTableElements uint64

	// KeepResidentBytes is the largest used extent that is scrubbed by
	// zeroing in place rather than by dropping pages. Extents beyond it
	// are decommitted regardless of the configured behavior.
	KeepResidentBytes uint64

	// Decommit selects how released slots are cleaned.
	Decommit DecommitBehavior
}

// DefaultLimits returns a configuration suitable for a mid-size embedding:
// 128 concurrent instances with 1 MiB stacks, 64 MiB memory slots and
// 64 Ki-element tables.
func DefaultLimits() Limits {
	return Limits{
		TotalStacks:       128,
		TotalMemories:     128,
		TotalTables:       128,
		StackSize:         1 << 20,
		MaxMemoryBytes:    64 << 20,
		MaxTableElements:  1 << 16,
		KeepResidentBytes: 512 << 10,
		Decommit:          DecommitZero,
	}
}
