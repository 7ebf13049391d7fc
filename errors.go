package vram

import "fmt"

// OutOfVideoMemoryError is returned when eviction has exhausted every
// candidate and the video-memory arena still cannot satisfy the requested
// contiguous allocation.
type OutOfVideoMemoryError struct {
	// AvailableBytes is the total free video memory, contiguous or not.
	AvailableBytes int
	// LargestFreeBlock is the largest contiguous free region.
	LargestFreeBlock int
	// WantedBytes is the size of the allocation that could not be satisfied.
	WantedBytes int
}

func (e *OutOfVideoMemoryError) Error() string {
	return fmt.Sprintf("could not spill more video memory to the system heap: %dKB available (largest block %dKB), wanted %dKB",
		e.AvailableBytes/1024, e.LargestFreeBlock/1024, e.WantedBytes/1024)
}

// AllocationFailedError is returned when the system heap cannot provide a
// destination buffer for a spill or transform because its budget is
// exhausted. The source texture is left untouched.
type AllocationFailedError struct {
	WantedBytes      int
	BudgetBytes      int
	OutstandingBytes int
}

func (e *AllocationFailedError) Error() string {
	return fmt.Sprintf("system heap allocation of %d bytes failed: %d of %d budgeted bytes outstanding",
		e.WantedBytes, e.OutstandingBytes, e.BudgetBytes)
}
