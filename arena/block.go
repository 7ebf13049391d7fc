package arena

import "sync"

var blockPool = sync.Pool{
	New: func() any {
		return &block{}
	},
}

// block describes one contiguous region of the arena, either taken or free.
// Blocks form a physical chain ordered by offset; free blocks additionally
// sit in a size-bucketed free list.
type block struct {
	offset       int
	size         int
	prevPhysical *block
	nextPhysical *block

	prevFree *block
	nextFree *block

	userData any
	handle   Allocation
}

func (b *block) MarkFree() {
	b.prevFree = nil
}

func (b *block) MarkTaken() {
	b.prevFree = b
}

func (b *block) IsFree() bool {
	return b.prevFree != b
}
