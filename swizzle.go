package vram

import "fmt"

// The texture unit fetches texels in 16-byte-wide, 8-row blocks. Swizzling
// reorders a linear raster image into that block order; the constants are
// fixed by the hardware, not configurable.
const (
	blockWidthBytes = 16
	blockRows       = 8
)

// swizzleBytes reorders src from linear raster order into blocked order in
// dst. bytewidth is the byte width of one padded row; len(src) and len(dst)
// must both be size bytes, with size a multiple of bytewidth*blockRows.
func swizzleBytes(dst, src []byte, bytewidth, size int) {
	height := size / bytewidth
	rowblocks := bytewidth / blockWidthBytes
	rowblocksAdd := (rowblocks - 1) * blockWidthBytes * blockRows

	blockAddress := 0
	srcOffset := 0
	for j := 0; j < height; j++ {
		blockOffset := blockAddress

		for i := 0; i < rowblocks; i++ {
			copy(dst[blockOffset:blockOffset+blockWidthBytes], src[srcOffset:srcOffset+blockWidthBytes])
			srcOffset += blockWidthBytes
			blockOffset += blockWidthBytes * blockRows
		}

		blockAddress += blockWidthBytes
		if j&(blockRows-1) == blockRows-1 {
			blockAddress += rowblocksAdd
		}
	}
}

// unswizzleBytes is the inverse of swizzleBytes.
func unswizzleBytes(dst, src []byte, bytewidth, size int) {
	height := size / bytewidth
	widthblocks := bytewidth / blockWidthBytes
	heightblocks := height / blockRows
	dstRow := bytewidth * blockRows

	srcOffset := 0
	ydst := 0
	for blocky := 0; blocky < heightblocks; blocky++ {
		xdst := ydst

		for blockx := 0; blockx < widthblocks; blockx++ {
			blockOffset := xdst

			for j := 0; j < blockRows; j++ {
				copy(dst[blockOffset:blockOffset+blockWidthBytes], src[srcOffset:srcOffset+blockWidthBytes])
				srcOffset += blockWidthBytes
				blockOffset += bytewidth
			}

			xdst += blockWidthBytes
		}

		ydst += dstRow
	}
}

// swizzle converts t's bytes from linear to blocked layout, relocating them
// into dst when provided or into a fresh system-memory buffer otherwise.
// No-op success when t is already swizzled or too small to block. On failure
// the texture is left untouched.
func (r *Renderer) swizzle(t *Texture, dst *storage) error {
	if t.swizzled || !t.swizzleable() {
		return nil
	}

	s := dst
	if s == nil {
		buf, err := r.heap.Allocate(t.size)
		if err != nil {
			return err
		}
		s = &storage{domain: StorageSystem, data: buf}
	}

	swizzleBytes(s.data, t.data, t.pitch, t.size)

	r.freeStorage(&t.storage)
	t.storage = *s
	t.swizzled = true

	r.sink.FlushCacheRange(t.data)
	return nil
}

// unswizzle converts t's bytes from blocked back to linear layout, with the
// same destination and failure contract as swizzle. No-op success when t is
// not swizzled.
func (r *Renderer) unswizzle(t *Texture, dst *storage) error {
	if !t.swizzled {
		return nil
	}

	s := dst
	if s == nil {
		buf, err := r.heap.Allocate(t.size)
		if err != nil {
			return err
		}
		s = &storage{domain: StorageSystem, data: buf}
	}

	unswizzleBytes(s.data, t.data, t.pitch, t.size)

	r.freeStorage(&t.storage)
	t.storage = *s
	t.swizzled = false

	r.sink.FlushCacheRange(t.data)
	return nil
}

// spillToSystem relocates a video-resident texture to the system heap,
// preserving its current layout.
func (r *Renderer) spillToSystem(t *Texture) error {
	if t.domain != StorageVideo {
		panic("attempted to spill a texture that is not resident in video memory")
	}

	if !t.swizzled && t.swizzleable() {
		// The swizzle transform allocates a fresh system buffer anyway, so it
		// doubles as the relocation step
		return r.swizzle(t, nil)
	}

	// Layout does not change here: blocked bytes are storage-domain-independent,
	// and textures below the block size stay linear. A plain copy moves either.
	buf, err := r.heap.Allocate(t.size)
	if err != nil {
		return err
	}

	copy(buf, t.data)
	r.freeStorage(&t.storage)
	t.storage = storage{domain: StorageSystem, data: buf}
	return nil
}

// promoteToVideo relocates a system-resident texture into the video-memory
// arena. The caller must have guaranteed a sufficient contiguous free block.
// Targets must be linear for the draw-buffer path, so a swizzled texture
// becoming a target is unswizzled directly into the new buffer.
func (r *Renderer) promoteToVideo(t *Texture, target bool) error {
	if t.domain == StorageVideo {
		panic("attempted to promote a texture that is already resident in video memory")
	}

	alloc, ok, err := r.vmem.Alloc(t.size, t)
	if err != nil {
		return err
	}
	if !ok {
		return r.outOfVideoMemory(t.size)
	}

	vs := storage{domain: StorageVideo, data: r.mustBytes(alloc), alloc: alloc}
	if t.swizzled && target {
		return r.unswizzle(t, &vs)
	}

	copy(vs.data, t.data)
	r.freeStorage(&t.storage)
	t.storage = vs
	return nil
}

// freeStorage releases a texture's bytes back to whichever heap owns them.
func (r *Renderer) freeStorage(s *storage) {
	switch s.domain {
	case StorageVideo:
		err := r.vmem.Free(s.alloc)
		if err != nil {
			panic(fmt.Sprintf("failed to free a renderer-owned video memory allocation: %+v", err))
		}
	case StorageSystem:
		r.heap.Free(s.data)
	}

	s.data = nil
	s.alloc = 0
}
