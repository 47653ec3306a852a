package pool

import (
	"fmt"

	wasmpool "github.com/wippyai/wasm-pool"
	"github.com/wippyai/wasm-pool/mem"
)

// scrubSlot returns a slot's used extent to all-zero bytes before the slot
// re-enters the free list. This is the isolation boundary between
// successive tenants of the same slot.
//
// Under DecommitZero, extents up to keepResident are cleared in place,
// keeping their pages resident for the next occupant; larger extents fall
// back to dropping the pages. Under DecommitRestoreMapping the pages are
// always dropped, so the next occupant observes the original zero-page
// mapping.
func scrubSlot(res *mem.Reservation, idx SlotIndex, used uint64, behavior wasmpool.DecommitBehavior, keepResident uint64) error {
	if used == 0 {
		return nil
	}
	slot := res.Slot(uint32(idx))
	if used > uint64(len(slot)) {
		panic(fmt.Sprintf("pool: used extent %d exceeds slot capacity %d", used, len(slot)))
	}
	if behavior == wasmpool.DecommitZero && used <= keepResident {
		clear(slot[:used])
		return nil
	}
	return res.DecommitSlot(uint32(idx))
}
