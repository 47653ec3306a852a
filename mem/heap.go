package mem

// NewHeapBackend returns the portable fallback backend. It is the platform
// default where mmap is unavailable and is also useful in tests that need
// deterministic behavior across platforms.
//
// Heap "reservations" commit everything up front and cannot protect guard
// regions; Decommit degrades to zeroing in place. Pooled reports false, so
// the stack pool treats deallocation as pure accounting and hands stack
// memory back to the general-purpose allocator instead of recycling it.
func NewHeapBackend() Backend {
	return heapBackend{}
}

type heapBackend struct{}

func (heapBackend) Reserve(length int) ([]byte, error) {
	return make([]byte, length), nil
}

func (heapBackend) Commit(b []byte) error { return nil }

func (heapBackend) Decommit(b []byte) error {
	clear(b)
	return nil
}

func (heapBackend) Protect(b []byte) error { return nil }

func (heapBackend) Release(b []byte) error { return nil }

func (heapBackend) Pooled() bool { return false }
