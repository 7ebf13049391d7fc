package vram

// SystemHeap is the system-memory side of the renderer's two storage domains.
// It hands out ordinary byte slices and tracks how many bytes are
// outstanding. A budget of 0 means unlimited; a positive budget models true
// exhaustion, which is otherwise unobservable from Go.
type SystemHeap struct {
	budget      int
	outstanding int
}

// NewSystemHeap creates a heap with the provided budget in bytes, 0 meaning
// unlimited.
func NewSystemHeap(budget int) *SystemHeap {
	if budget < 0 {
		panic("system heap budget cannot be negative")
	}
	return &SystemHeap{budget: budget}
}

// Allocate returns a zeroed buffer of size bytes, or AllocationFailedError
// when the configured budget would be exceeded.
func (h *SystemHeap) Allocate(size int) ([]byte, error) {
	if h.budget > 0 && h.outstanding+size > h.budget {
		return nil, &AllocationFailedError{
			WantedBytes:      size,
			BudgetBytes:      h.budget,
			OutstandingBytes: h.outstanding,
		}
	}

	h.outstanding += size
	return make([]byte, size), nil
}

// Free returns a buffer previously obtained from Allocate.
func (h *SystemHeap) Free(buf []byte) {
	h.outstanding -= len(buf)
	if h.outstanding < 0 {
		panic("system heap freed more bytes than it allocated")
	}
}

// Outstanding returns the number of allocated-but-unfreed bytes.
func (h *SystemHeap) Outstanding() int {
	return h.outstanding
}

// Budget returns the configured budget, 0 meaning unlimited.
func (h *SystemHeap) Budget() int {
	return h.budget
}
