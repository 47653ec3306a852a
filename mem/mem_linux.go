//go:build linux

package mem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func newPlatformBackend() Backend {
	return mmapBackend{}
}

// mmapBackend reserves address space with a protected, private, anonymous
// mapping. Reserving does not commit memory; pages are only backed once a
// range is committed and touched.
type mmapBackend struct{}

func (mmapBackend) Reserve(length int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, length, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return b, nil
}

func (mmapBackend) Commit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("mprotect rw: %w", err)
	}
	return nil
}

func (mmapBackend) Decommit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	// Linux MADV_DONTNEED drops private anonymous pages outright, so
	// the next access observes fresh zero pages. This is exactly the
	// guarantee the decommit policy leans on; on darwin and the BSDs
	// the same advice may keep stale contents resident, which is why
	// those platforms take the heap fallback instead.
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("madvise dontneed: %w", err)
	}
	return nil
}

func (mmapBackend) Protect(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Mprotect(b, unix.PROT_NONE); err != nil {
		return fmt.Errorf("mprotect none: %w", err)
	}
	return nil
}

func (mmapBackend) Release(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

func (mmapBackend) Pooled() bool { return true }
