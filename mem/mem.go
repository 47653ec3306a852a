package mem

import (
	"fmt"
	"os"
)

// Backend provides the page-granular virtual-memory primitives a
// Reservation is built on. Each method is atomic with respect to a single
// range; none of them blocks on I/O.
type Backend interface {
	// Reserve maps length bytes of address space with no access rights.
	// The returned slice covers the whole reservation; its bytes must not
	// be touched until a sub-range is committed.
	Reserve(length int) ([]byte, error)

	// Commit makes a range readable and writable.
	Commit(b []byte) error

	// Decommit returns a range's physical pages to the OS while keeping
	// the address range reserved. The range reads as zero afterwards.
	Decommit(b []byte) error

	// Protect removes all access from a range.
	Protect(b []byte) error

	// Release unmaps an entire reservation returned by Reserve.
	Release(b []byte) error

	// Pooled reports whether reservations are real address-space mappings
	// that can be recycled across tenants. The heap fallback reports
	// false, and the stack pool then hands stack memory back to the
	// general-purpose allocator instead of reusing it.
	Pooled() bool
}

// NewBackend returns the platform's default backend: mmap-based address
// space on linux, the heap fallback elsewhere.
func NewBackend() Backend {
	return newPlatformBackend()
}

// PageSize returns the platform page size.
func PageSize() uint64 {
	return uint64(os.Getpagesize())
}

// RoundUpPage rounds n up to the next page-size multiple.
func RoundUpPage(n uint64) uint64 {
	p := PageSize()
	return (n + p - 1) &^ (p - 1)
}

// Config describes one reservation's slot geometry.
type Config struct {
	// SlotSize is the usable byte size of each slot. Rounded up to the
	// page size.
	SlotSize uint64

	// SlotCount is the number of slots carved from the reservation.
	SlotCount uint32

	// GuardBytes is the inaccessible span kept between adjacent slots
	// (and before the first one). Rounded up to the page size. Ignored on
	// backends without real mappings.
	GuardBytes uint64
}

// Reservation is a single contiguous address-space reservation carved into
// equal-stride slots. It is created once, never resized, and outlives every
// slot view derived from it.
//
// Layout: [guard][slot 0][guard][slot 1]...[guard][slot N-1][guard].
type Reservation struct {
	backend Backend
	buf     []byte
	slot    uint64
	guard   uint64
	stride  uint64
	count   uint32
}

// Reserve makes the reservation for cfg. A zero SlotCount or SlotSize is
// allowed and produces an empty reservation that only supports Close.
func Reserve(backend Backend, cfg Config) (*Reservation, error) {
	maxLen := uint64(int(^uint(0) >> 1))
	if cfg.SlotSize > maxLen || cfg.GuardBytes > maxLen {
		// Rounding would wrap on sizes this close to the uint64 ceiling.
		return nil, fmt.Errorf("slot size %d or guard size %d overflows the address space", cfg.SlotSize, cfg.GuardBytes)
	}
	slot := RoundUpPage(cfg.SlotSize)
	guard := RoundUpPage(cfg.GuardBytes)
	if !backend.Pooled() {
		// No protection without real mappings, so guards would only
		// waste heap.
		guard = 0
	}

	stride := slot + guard
	// Checked by division: the products wrap uint64 on absurd geometry,
	// so a straight total > maxLen comparison is not enough.
	if stride < slot || guard > maxLen ||
		(stride != 0 && uint64(cfg.SlotCount) > (maxLen-guard)/stride) {
		return nil, fmt.Errorf("reservation of %d slots x %d bytes overflows the address space", cfg.SlotCount, slot)
	}
	total := guard + uint64(cfg.SlotCount)*stride

	var buf []byte
	if total > 0 {
		var err error
		buf, err = backend.Reserve(int(total))
		if err != nil {
			return nil, fmt.Errorf("reserve %d bytes: %w", total, err)
		}
	}

	return &Reservation{
		backend: backend,
		buf:     buf,
		slot:    slot,
		guard:   guard,
		stride:  stride,
		count:   cfg.SlotCount,
	}, nil
}

// Backend returns the backend this reservation was made on.
func (r *Reservation) Backend() Backend { return r.backend }

// SlotSize returns the page-rounded usable size of each slot.
func (r *Reservation) SlotSize() uint64 { return r.slot }

// SlotCount returns the number of slots.
func (r *Reservation) SlotCount() uint32 { return r.count }

// GuardBytes returns the page-rounded guard span between slots.
func (r *Reservation) GuardBytes() uint64 { return r.guard }

// Len returns the total reserved byte length.
func (r *Reservation) Len() int { return len(r.buf) }

func (r *Reservation) slotRange(i uint32) []byte {
	if i >= r.count {
		panic(fmt.Sprintf("mem: slot index %d out of range (count %d)", i, r.count))
	}
	off := r.guard + uint64(i)*r.stride
	return r.buf[off : off+r.slot : off+r.slot]
}

// Slot returns the full-capacity view of slot i. The view is only valid to
// access while the slot is committed, and only valid to retain while the
// reservation is open.
func (r *Reservation) Slot(i uint32) []byte {
	return r.slotRange(i)
}

// CommitSlot makes slot i readable and writable.
func (r *Reservation) CommitSlot(i uint32) error {
	return r.backend.Commit(r.slotRange(i))
}

// DecommitSlot drops slot i's physical pages. The slot stays committed for
// access; its bytes read as zero.
func (r *Reservation) DecommitSlot(i uint32) error {
	return r.backend.Decommit(r.slotRange(i))
}

// ProtectSlot removes all access from slot i until the next CommitSlot.
func (r *Reservation) ProtectSlot(i uint32) error {
	return r.backend.Protect(r.slotRange(i))
}

// Close unmaps the reservation. Every slot view becomes invalid.
func (r *Reservation) Close() error {
	if r.buf == nil {
		return nil
	}
	buf := r.buf
	r.buf = nil
	return r.backend.Release(buf)
}
