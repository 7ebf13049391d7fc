// Package arena manages a fixed-size video-memory block with two-level
// segregated-fit free-list metadata. It is the authority on how many bytes of
// video memory remain and, critically for eviction decisions, on the size of
// the largest free contiguous region.
package arena

import (
	"fmt"
	"math"
	"math/bits"
	"sync/atomic"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/gurender/vram/memutils"
)

const (
	// SmallBufferSize is the largest allocation size handled by the linear
	// small-size buckets rather than the logarithmic classes.
	SmallBufferSize        = 256
	SecondLevelIndex uint8 = 5
	MemoryClassShift       = 7
	MaxMemoryClasses       = 65 - MemoryClassShift

	// Granularity is the byte alignment of every allocation. The hardware
	// requires 16-byte-aligned buffer addresses.
	Granularity uint = 16
)

// Allocation is a stable handle for one live arena allocation.
type Allocation uint64

// NoAllocation is the zero Allocation; it never refers to a live allocation.
const NoAllocation Allocation = 0

// Arena is a fixed-capacity video-memory allocator. It owns the backing byte
// store, so callers can view any live allocation as a subslice of the arena.
type Arena struct {
	size            int
	allocCount      int
	blocksFreeCount int
	blocksFreeSize  int

	isFreeBitmap      uint32
	memoryClasses     int
	innerIsFreeBitmap [MaxMemoryClasses]uint32

	nextHandle Allocation
	handleKey  *swiss.Map[Allocation, *block]
	freeList   []*block
	nullBlock  *block

	backing []byte
}

var _ memutils.Validatable = &Arena{}

// New creates an Arena managing size bytes of video memory.
func New(size int) *Arena {
	if size < 1 {
		panic(fmt.Sprintf("invalid arena size: %d", size))
	}
	memutils.DebugCheckPow2(Granularity, "allocation granularity")

	a := &Arena{
		size:      size,
		backing:   make([]byte, size),
		handleKey: swiss.NewMap[Allocation, *block](42),
	}

	a.nullBlock = a.allocateBlock()
	a.nullBlock.size = size
	a.nullBlock.MarkFree()

	memoryClass := a.sizeToMemoryClass(size)
	sli := a.sizeToSecondIndex(size, memoryClass)

	listSize := 1
	sliMask := int(uint(1) << SecondLevelIndex)
	if memoryClass != 0 {
		listSize = int(memoryClass-1)*sliMask + int(sli+1)
	}

	listSize += 4

	a.memoryClasses = int(memoryClass + 2)
	a.freeList = make([]*block, listSize)

	return a
}

func (a *Arena) allocateBlock() *block {
	b := blockPool.Get().(*block)
	b.offset = 0
	b.size = 0
	b.prevPhysical = nil
	b.nextPhysical = nil
	b.nextFree = nil
	b.prevFree = nil
	b.userData = nil
	b.handle = Allocation(atomic.AddUint64((*uint64)(&a.nextHandle), 1))
	a.handleKey.Put(b.handle, b)
	return b
}

func (a *Arena) freeBlock(b *block) {
	a.handleKey.Delete(b.handle)
	blockPool.Put(b)
}

func (a *Arena) getBlock(handle Allocation) (*block, error) {
	b, ok := a.handleKey.Get(handle)
	if !ok {
		return nil, errors.New("received a handle that was incompatible with this arena")
	}
	return b, nil
}

// Size returns the total capacity of the arena in bytes.
func (a *Arena) Size() int {
	return a.size
}

// AllocationCount returns the number of live allocations.
func (a *Arena) AllocationCount() int {
	return a.allocCount
}

// SumFreeSize returns the total number of free bytes, contiguous or not.
func (a *Arena) SumFreeSize() int {
	return a.blocksFreeSize + a.nullBlock.size
}

// LargestFreeBlock returns the size in bytes of the largest contiguous free
// region. Alloc rounds requests up to Granularity, so a request whose rounded
// size is no larger than this value will succeed.
func (a *Arena) LargestFreeBlock() int {
	largest := a.nullBlock.size

	// Buckets are ordered by size range, so the largest explicitly-freed
	// block lives in the highest occupied bucket.
	if a.isFreeBitmap != 0 {
		memClass := uint8(31 - bits.LeadingZeros32(a.isFreeBitmap))
		inner := a.innerIsFreeBitmap[memClass]
		if inner == 0 {
			panic("free bitmap is in an invalid state")
		}
		sli := uint16(31 - bits.LeadingZeros32(inner))

		for b := a.freeList[a.getListIndex(memClass, sli)]; b != nil; b = b.nextFree {
			if b.size > largest {
				largest = b.size
			}
		}
	}

	return largest
}

// IsEmpty returns true when the arena has no live allocations.
func (a *Arena) IsEmpty() bool {
	return a.nullBlock.offset == 0
}

// Offset returns the byte offset of a live allocation within the arena.
func (a *Arena) Offset(handle Allocation) (int, error) {
	b, err := a.getBlock(handle)
	if err != nil {
		return 0, err
	}

	return b.offset, nil
}

// Bytes returns the backing bytes of a live allocation as a subslice of the
// arena's store.
func (a *Arena) Bytes(handle Allocation) ([]byte, error) {
	b, err := a.getBlock(handle)
	if err != nil {
		return nil, err
	}
	if b.IsFree() {
		return nil, errors.New("bytes cannot be retrieved for a free block")
	}

	return a.backing[b.offset : b.offset+b.size : b.offset+b.size], nil
}

// UserData returns the userData value provided when the allocation was made.
func (a *Arena) UserData(handle Allocation) (any, error) {
	b, err := a.getBlock(handle)
	if err != nil {
		return nil, err
	}
	if b.IsFree() {
		return nil, errors.New("user data cannot be retrieved for a free block")
	}

	return b.userData, nil
}

func (a *Arena) sizeToMemoryClass(size int) uint8 {
	if size > SmallBufferSize {
		mostSignificantBit := uint8(63 - bits.LeadingZeros64(uint64(size)))
		return mostSignificantBit - MemoryClassShift
	}

	return 0
}

func (a *Arena) sizeToSecondIndex(size int, memoryClass uint8) uint16 {
	if memoryClass != 0 {
		mask := uint(1) << SecondLevelIndex
		indexVal := uint(size) >> (memoryClass + MemoryClassShift - SecondLevelIndex)
		return uint16(indexVal ^ mask)
	}

	return uint16((size - 1) / 64)
}

func (a *Arena) getListIndex(memoryClass uint8, secondIndex uint16) int {
	if memoryClass == 0 {
		return int(secondIndex)
	}

	i := uint32(memoryClass-1)*uint32(uint(1)<<SecondLevelIndex) + uint32(secondIndex)

	return int(i) + 4
}

func (a *Arena) getListIndexFromSize(size int) int {
	memoryClass := a.sizeToMemoryClass(size)
	secondIndex := a.sizeToSecondIndex(size, memoryClass)
	return a.getListIndex(memoryClass, secondIndex)
}

// Alloc carves a region of at least size bytes out of the arena. The returned
// bool reports whether a sufficiently-large contiguous free region existed;
// when it is false, the arena is unchanged and the caller must free space
// before retrying. userData is retained for diagnostics and leak reporting.
func (a *Arena) Alloc(size int, userData any) (Allocation, bool, error) {
	if size < 1 {
		return NoAllocation, false, errors.Errorf("invalid allocation size: %d", size)
	}

	memutils.DebugValidate(a)

	size = memutils.AlignUp(size, Granularity)

	// Is the arena big enough?
	if size > a.SumFreeSize() {
		return NoAllocation, false, nil
	}

	// Any free blocks outside the null block?
	if a.blocksFreeCount == 0 {
		return a.tryCommitBlock(a.nullBlock, size, userData)
	}

	// Round up to the next bucket so the first candidate is guaranteed to fit
	sizeForNextList := size
	smallSizeStep := SmallBufferSize / 4
	if size > SmallBufferSize {
		mostSignificantBit := 63 - bits.LeadingZeros64(uint64(size))
		sizeForNextList += int(uint(1) << (mostSignificantBit - int(SecondLevelIndex)))
	} else if size > SmallBufferSize-smallSizeStep {
		sizeForNextList = SmallBufferSize + 1
	} else {
		sizeForNextList += smallSizeStep
	}

	// Check the larger bucket first
	nextListBlock, nextListIndex := a.findFreeBlock(sizeForNextList)
	doFullSearch := false
	for nextListBlock != nil {
		doFullSearch = true
		if nextListBlock.size >= size {
			return a.tryCommitBlock(nextListBlock, size, userData)
		}

		nextListBlock = nextListBlock.nextFree
	}

	// If that failed, the null block
	if a.nullBlock.size >= size {
		return a.tryCommitBlock(a.nullBlock, size, userData)
	}

	// Then the best-fit bucket
	prevListBlock, _ := a.findFreeBlock(size)
	for prevListBlock != nil {
		if prevListBlock.size >= size {
			return a.tryCommitBlock(prevListBlock, size, userData)
		}

		prevListBlock = prevListBlock.nextFree
	}

	if !doFullSearch {
		return NoAllocation, false, nil
	}

	// Worst case, search every remaining bucket
	for nextListIndex++; nextListIndex < len(a.freeList); nextListIndex++ {
		for candidate := a.freeList[nextListIndex]; candidate != nil; candidate = candidate.nextFree {
			if candidate.size >= size {
				return a.tryCommitBlock(candidate, size, userData)
			}
		}
	}

	return NoAllocation, false, nil
}

// tryCommitBlock takes a free block that is known to be at least size bytes
// and commits an allocation at its start, splitting off any remainder.
func (a *Arena) tryCommitBlock(currentBlock *block, size int, userData any) (Allocation, bool, error) {
	if !currentBlock.IsFree() {
		panic(fmt.Sprintf("block at offset %d is already taken", currentBlock.offset))
	}
	if currentBlock.size < size {
		return NoAllocation, false, errors.Errorf(
			"attempted to commit an allocation of %d bytes to a block of only %d bytes",
			size, currentBlock.size)
	}

	if currentBlock != a.nullBlock {
		a.removeFreeBlock(currentBlock)
	}

	// Sizes are aligned up on entry, so offsets stay aligned and no
	// alignment padding block is ever needed.
	if currentBlock.size == size {
		if currentBlock == a.nullBlock {
			// Set up a new null block
			a.nullBlock = a.allocateBlock()
			a.nullBlock.size = 0
			a.nullBlock.offset = currentBlock.offset + size
			a.nullBlock.prevPhysical = currentBlock
			a.nullBlock.nextPhysical = nil
			a.nullBlock.MarkFree()
			a.nullBlock.prevFree = nil
			a.nullBlock.nextFree = nil
			currentBlock.nextPhysical = a.nullBlock
			currentBlock.MarkTaken()
		}
	} else {
		// Split off a new free block for the remainder
		newBlock := a.allocateBlock()
		newBlock.size = currentBlock.size - size
		newBlock.offset = currentBlock.offset + size
		newBlock.prevPhysical = currentBlock
		newBlock.nextPhysical = currentBlock.nextPhysical
		currentBlock.nextPhysical = newBlock
		currentBlock.size = size

		if currentBlock == a.nullBlock {
			a.nullBlock = newBlock
			a.nullBlock.MarkFree()
			a.nullBlock.nextFree = nil
			a.nullBlock.prevFree = nil
			currentBlock.MarkTaken()
		} else {
			newBlock.nextPhysical.prevPhysical = newBlock
			newBlock.MarkTaken()
			a.insertFreeBlock(newBlock)
		}
	}

	currentBlock.userData = userData
	a.allocCount++

	return currentBlock.handle, true, nil
}

// Free releases a live allocation, merging the region with any free physical
// neighbors.
func (a *Arena) Free(handle Allocation) error {
	b, err := a.getBlock(handle)
	if err != nil {
		return err
	}
	if b.IsFree() {
		return errors.New("block is already free")
	}

	next := b.nextPhysical
	a.allocCount--

	// Try merging
	prev := b.prevPhysical
	if prev != nil && prev.IsFree() {
		a.removeFreeBlock(prev)
		a.mergeBlock(b, prev)
	}

	if !next.IsFree() {
		a.insertFreeBlock(b)
	} else if next == a.nullBlock {
		a.mergeBlock(a.nullBlock, b)
	} else {
		a.removeFreeBlock(next)
		a.mergeBlock(next, b)

		a.insertFreeBlock(next)
	}

	return nil
}

func (a *Arena) removeFreeBlock(b *block) {
	if b == a.nullBlock {
		panic("cannot remove the null block")
	}
	if !b.IsFree() {
		panic("provided block is not free")
	}

	// Remove from free list chain
	if b.nextFree != nil {
		b.nextFree.prevFree = b.prevFree
	}
	if b.prevFree != nil {
		b.prevFree.nextFree = b.nextFree
	} else {
		memClass := a.sizeToMemoryClass(b.size)
		secondIndex := a.sizeToSecondIndex(b.size, memClass)
		index := a.getListIndex(memClass, secondIndex)

		if a.freeList[index] != b {
			panic("block was not in the free list at the expected location")
		}
		a.freeList[index] = b.nextFree
		if b.nextFree == nil {
			a.innerIsFreeBitmap[memClass] &= ^(uint32(1) << secondIndex)
			if a.innerIsFreeBitmap[memClass] == 0 {
				a.isFreeBitmap &= ^(uint32(1) << memClass)
			}
		}
	}

	// Set up block for use
	b.MarkTaken()
	b.userData = nil
	a.blocksFreeCount--
	a.blocksFreeSize -= b.size
}

func (a *Arena) insertFreeBlock(b *block) {
	if b == a.nullBlock {
		panic("cannot insert the null block")
	}
	if b.IsFree() {
		panic("block is already free")
	}

	memClass := a.sizeToMemoryClass(b.size)
	secondIndex := a.sizeToSecondIndex(b.size, memClass)
	index := a.getListIndex(memClass, secondIndex)

	if index >= len(a.freeList) {
		panic("invalid free list index found for block")
	}

	b.prevFree = nil
	b.nextFree = a.freeList[index]
	a.freeList[index] = b
	if b.nextFree != nil {
		b.nextFree.prevFree = b
	} else {
		a.innerIsFreeBitmap[memClass] |= uint32(1) << secondIndex
		a.isFreeBitmap |= uint32(1) << memClass
	}
	a.blocksFreeCount++
	a.blocksFreeSize += b.size
}

func (a *Arena) mergeBlock(b *block, prev *block) {
	if b.prevPhysical != prev {
		panic("cannot merge separate physical regions")
	}
	if prev.IsFree() {
		panic("cannot merge a block that belongs to the free list")
	}

	b.offset = prev.offset
	b.size += prev.size
	b.prevPhysical = prev.prevPhysical
	if b.prevPhysical != nil {
		b.prevPhysical.nextPhysical = b
	}

	a.freeBlock(prev)
}

func (a *Arena) findFreeBlock(size int) (*block, int) {
	memoryClass := a.sizeToMemoryClass(size)
	innerFreeMap := a.innerIsFreeBitmap[memoryClass] & (math.MaxUint32 << a.sizeToSecondIndex(size, memoryClass))

	if innerFreeMap == 0 {
		// Check higher classes for available blocks
		freeMap := a.isFreeBitmap & (math.MaxUint32 << (memoryClass + 1))
		if freeMap == 0 {
			return nil, 0
		}

		// Find lowest free region
		memoryClass = uint8(bits.TrailingZeros32(freeMap))
		innerFreeMap = a.innerIsFreeBitmap[memoryClass]
		if innerFreeMap == 0 {
			panic("free bitmap is in an invalid state")
		}
	}

	// Find lowest free subregion
	listIndex := a.getListIndex(memoryClass, uint16(bits.TrailingZeros32(innerFreeMap)))
	if a.freeList[listIndex] == nil {
		panic(fmt.Sprintf("free list index %d was listed as having free blocks, but no blocks were in the free list", listIndex))
	}

	return a.freeList[listIndex], listIndex
}

// Validate performs internal consistency checks across the free lists and the
// physical chain. It should not be possible for this method to return an
// error, but it may assist in diagnosing allocator bugs.
func (a *Arena) Validate() error {
	if a.SumFreeSize() > a.size {
		return errors.New("invalid arena free size")
	}

	calculatedSize := a.nullBlock.size
	calculatedFreeSize := a.nullBlock.size
	var allocCount, freeCount, freeListCount int

	// Check integrity of free lists
	for listIndex := 0; listIndex < len(a.freeList); listIndex++ {
		b := a.freeList[listIndex]
		if b == nil {
			continue
		}

		if !b.IsFree() {
			return errors.Errorf("block at offset %d is in the free list but is not free", b.offset)
		}

		if b.prevFree != nil {
			return errors.Errorf("block at offset %d is the head of a free list but has a previous block", b.offset)
		}

		freeListCount++
		for b.nextFree != nil {
			if !b.nextFree.IsFree() {
				return errors.Errorf("block at offset %d is in the free list but it is not free", b.nextFree.offset)
			}
			if b.nextFree.prevFree != b {
				return errors.Errorf("block at offset %d lists the block at offset %d as its next block, but the reverse reference is broken", b.offset, b.nextFree.offset)
			}

			freeListCount++
			b = b.nextFree
		}
	}

	if a.nullBlock.nextPhysical != nil {
		return errors.New("null block must be the tail of the physical block chain")
	}

	if a.nullBlock.prevPhysical != nil && a.nullBlock.prevPhysical.nextPhysical != a.nullBlock {
		return errors.New("null block has a physical block before it in its chain, but the reverse reference is broken")
	}

	nextOffset := a.nullBlock.offset

	for prev := a.nullBlock.prevPhysical; prev != nil; prev = prev.prevPhysical {
		if prev.offset+prev.size != nextOffset {
			return errors.Errorf("physical block at offset %d does not end at the next block's start offset", prev.offset)
		}

		nextOffset = prev.offset
		calculatedSize += prev.size

		if prev.IsFree() {
			freeCount++
			calculatedFreeSize += prev.size
		} else {
			allocCount++
		}

		if prev.prevPhysical != nil && prev.prevPhysical.nextPhysical != prev {
			return errors.Errorf("block at offset %d has a previous physical block, but the reverse reference is broken", prev.offset)
		}
	}

	if freeListCount != freeCount {
		return errors.Errorf("the number of free blocks in the physical list and the number of blocks in the free list do not match! free list size: %d, physical list free blocks: %d", freeListCount, freeCount)
	}

	if nextOffset != 0 {
		return errors.Errorf("the first physical block should have an offset of 0, but instead it has an offset of %d", nextOffset)
	}

	if calculatedSize != a.size {
		return errors.Errorf("the full size of the arena is %d, but the blocks only added up to %d", a.size, calculatedSize)
	}

	if calculatedFreeSize != a.SumFreeSize() {
		return errors.Errorf("the free size of the arena is %d, but the free blocks only added up to %d", a.SumFreeSize(), calculatedFreeSize)
	}

	if allocCount != a.allocCount {
		return errors.Errorf("the allocation count of the arena is %d, but the taken blocks only added up to %d", a.allocCount, allocCount)
	}

	if freeCount != a.blocksFreeCount {
		return errors.Errorf("the free block count of the arena is %d, but there were only %d free blocks", a.blocksFreeCount, freeCount)
	}

	return nil
}

// AddDetailedStatistics sums this arena's allocation statistics into stats.
func (a *Arena) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += a.size
	if a.nullBlock.size > 0 {
		stats.AddUnusedRange(a.nullBlock.size)
	}

	for b := a.nullBlock.prevPhysical; b != nil; b = b.prevPhysical {
		if b.IsFree() {
			stats.AddUnusedRange(b.size)
		} else {
			stats.AddAllocation(b.size)
		}
	}
}

// AddStatistics sums this arena's allocation statistics into stats.
func (a *Arena) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += a.allocCount
	stats.BlockBytes += a.size
	stats.AllocationBytes += a.size - a.SumFreeSize()
}

// BlockJsonData populates a json object with summary information about the arena.
func (a *Arena) BlockJsonData(json jwriter.ObjectState) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	json.Name("TotalBytes").Int(a.size)
	json.Name("UnusedBytes").Int(stats.BlockBytes - stats.AllocationBytes)
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("UnusedRanges").Int(stats.UnusedRangeCount)
	json.Name("LargestFreeBlock").Int(a.LargestFreeBlock())
}

// VisitAllBlocks calls handleBlock once for every physical region in the
// arena, taken or free, in descending offset order.
func (a *Arena) VisitAllBlocks(handleBlock func(handle Allocation, offset int, size int, userData any, free bool) error) error {
	for b := a.nullBlock; b != nil; b = b.prevPhysical {
		err := handleBlock(b.handle, b.offset, b.size, b.userData, b.IsFree())
		if err != nil {
			return err
		}
	}

	return nil
}

// DebugLogAllAllocations calls logFunc for every live allocation.
func (a *Arena) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, offset int, size int, userData any)) {
	for b := a.nullBlock.prevPhysical; b != nil; b = b.prevPhysical {
		if !b.IsFree() {
			logFunc(logger, b.offset, b.size, b.userData)
		}
	}
}

// Clear instantly frees all allocations.
func (a *Arena) Clear() {
	a.allocCount = 0
	a.blocksFreeCount = 0
	a.blocksFreeSize = 0
	a.isFreeBitmap = 0
	a.nullBlock.offset = 0
	a.nullBlock.size = a.size
	b := a.nullBlock.prevPhysical
	a.nullBlock.prevPhysical = nil

	for b != nil {
		prev := b.prevPhysical
		a.freeBlock(b)
		b = prev
	}

	a.freeList = make([]*block, len(a.freeList))
	a.innerIsFreeBitmap = [MaxMemoryClasses]uint32{}
}
