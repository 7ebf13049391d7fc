// Package vram keeps a bounded video-memory arena populated with the render
// targets a frame actually needs. Render targets are created in video memory
// and tracked in least-recently-used order; when an allocation cannot be
// satisfied, cold targets are spilled to the system heap until a large enough
// contiguous free block exists, and spilled targets are promoted back on
// their next bind.
package vram

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"

	"github.com/gurender/vram/arena"
	"github.com/gurender/vram/gu"
	"github.com/gurender/vram/memutils"
)

// Renderer owns the video-memory arena, the system heap, the residency list,
// and the currently-bound draw target. All operations execute synchronously
// on the caller's goroutine; see RendererCreateSynchronized.
type Renderer struct {
	logger      *slog.Logger
	sink        gu.CommandSink
	createFlags CreateFlags

	vmem *arena.Arena
	heap *SystemHeap

	targets     residencyList
	boundTarget *Texture

	frontBuffer   arena.Allocation
	backBuffer    arena.Allocation
	displayFormat gu.PixelFormat
	displayStride int
	vsync         bool
}

var _ memutils.Validatable = &Renderer{}

func (r *Renderer) outOfVideoMemory(wanted int) error {
	return &OutOfVideoMemoryError{
		AvailableBytes:   r.vmem.SumFreeSize(),
		LargestFreeBlock: r.vmem.LargestFreeBlock(),
		WantedBytes:      wanted,
	}
}

// spillLRU evicts the single least-recently-used resident render target.
// wanted is carried for diagnostics only.
func (r *Renderer) spillLRU(wanted int) error {
	lru := r.targets.Tail()
	if lru == nil {
		// Asked to spill but there is nothing left to spill
		return r.outOfVideoMemory(wanted)
	}

	if err := r.spillToSystem(lru); err != nil {
		return err
	}
	r.targets.Remove(lru)

	r.logger.LogAttrs(context.Background(), slog.LevelDebug, "spilled render target to system heap",
		slog.String("texture", lru.String()),
		slog.Int("size", lru.size),
		slog.Int("largestFreeBlock", r.vmem.LargestFreeBlock()),
	)
	return nil
}

// ensureSpace evicts least-recently-used render targets until the arena
// reports a contiguous free block of at least size bytes. Strict LRU: the
// tail is always the next victim, with no size-based tie-break, even when a
// single larger victim would free more memory with fewer spills.
func (r *Renderer) ensureSpace(size int) error {
	// Alloc rounds requests up to the arena granularity, so compare against
	// the rounded size or a free block could look large enough and still fail
	size = memutils.AlignUp(size, arena.Granularity)
	for r.vmem.LargestFreeBlock() < size {
		if err := r.spillLRU(size); err != nil {
			return err
		}
	}
	return nil
}

// BindAsTarget makes t the destination of subsequent draw commands,
// promoting it into video memory first if it was spilled. On failure the
// previously-bound target remains bound and t is unchanged. Binding is the
// only event besides creation that re-ranks a target; sampling reads never
// affect recency.
func (r *Renderer) BindAsTarget(t *Texture) error {
	r.logger.Debug("Renderer::BindAsTarget")

	if t.access != AccessTarget {
		panic("attempted to bind a texture that was not created as a render target")
	}

	if t.domain != StorageVideo {
		// Bring the texture back into video memory
		if err := r.ensureSpace(t.size); err != nil {
			return err
		}
		if err := r.promoteToVideo(t, true); err != nil {
			return err
		}
	}
	r.targets.BringToFront(t)
	r.sink.SetDrawBuffer(t.format, r.mustOffset(t.alloc), t.textureWidth)

	// Stencil alpha dst hack: the 5551 alpha bit doubles as stencil, and
	// clears only hit it with these tests enabled
	if t.format == gu.PSM5551 {
		r.sink.EnableStencilAlphaHack()
	} else {
		r.sink.DisableStencilAlphaHack()
	}

	r.boundTarget = t
	return nil
}

// CreateRenderTarget creates a texture that can be bound as a draw target.
// The texture is allocated in video memory, evicting colder targets if
// needed, and enters the residency list as the most recent entry.
func (r *Renderer) CreateRenderTarget(width, height int, format gu.PixelFormat) (*Texture, error) {
	return r.CreateTexture(width, height, format, AccessTarget)
}

// CreateTexture creates a texture with the provided access pattern. Non-target
// textures live in system memory and never participate in residency.
func (r *Renderer) CreateTexture(width, height int, format gu.PixelFormat, access Access) (*Texture, error) {
	r.logger.Debug("Renderer::CreateTexture")

	if width < 1 || height < 1 {
		return nil, errors.Newf("invalid texture dimensions: %dx%d", width, height)
	}

	bits, err := format.BitsPerPixel()
	if err != nil {
		return nil, err
	}

	t := &Texture{
		width:         width,
		height:        height,
		textureWidth:  memutils.NextPow2(width),
		textureHeight: memutils.NextPow2(height),
		bits:          bits,
		format:        format,
		access:        access,
	}
	t.pitch = t.textureWidth * (bits >> 3)
	t.size = t.textureHeight * t.pitch

	if access == AccessTarget {
		if err := r.ensureSpace(t.size); err != nil {
			return nil, err
		}

		alloc, ok, err := r.vmem.Alloc(t.size, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, r.outOfVideoMemory(t.size)
		}

		t.storage = storage{domain: StorageVideo, data: r.mustBytes(alloc), alloc: alloc}
		r.targets.PushFront(t)
	} else {
		buf, err := r.heap.Allocate(t.size)
		if err != nil {
			return nil, err
		}

		t.storage = storage{domain: StorageSystem, data: buf}
	}

	return t, nil
}

// DestroyTexture unlinks t from the residency list if listed and frees its
// bytes from whichever heap currently owns them.
func (r *Renderer) DestroyTexture(t *Texture) {
	r.logger.Debug("Renderer::DestroyTexture")

	if t.access == AccessTarget {
		r.targets.Remove(t)
	}
	r.freeStorage(&t.storage)

	if r.boundTarget == t {
		r.boundTarget = nil
	}
}

// WritePixels copies a full image into t, honoring the source pitch. A
// swizzled texture is returned to linear layout first so raster writes land
// where they should.
func (r *Renderer) WritePixels(t *Texture, pixels []byte, srcPitch int) error {
	r.logger.Debug("Renderer::WritePixels")

	if t.swizzled {
		if err := r.unswizzle(t, nil); err != nil {
			return err
		}
	}

	rowBytes := t.width * (t.bits >> 3)
	if srcPitch < rowBytes {
		return errors.Newf("source pitch %d is smaller than a row of pixels (%d bytes)", srcPitch, rowBytes)
	}
	if len(pixels) < (t.height-1)*srcPitch+rowBytes {
		return errors.Newf("pixel buffer of %d bytes is too small for a %dx%d upload with pitch %d", len(pixels), t.width, t.height, srcPitch)
	}

	if srcPitch == rowBytes && rowBytes == t.pitch {
		copy(t.data, pixels[:rowBytes*t.height])
	} else {
		srcOffset := 0
		dstOffset := 0
		for row := 0; row < t.height; row++ {
			copy(t.data[dstOffset:dstOffset+rowBytes], pixels[srcOffset:srcOffset+rowBytes])
			srcOffset += srcPitch
			dstOffset += t.pitch
		}
	}

	r.sink.FlushCacheRange(t.data)
	return nil
}

// ActivateForSampling binds t as the active sampling source, swizzling it
// first when the transform pays off. Sampling does not re-rank residency.
func (r *Renderer) ActivateForSampling(t *Texture) error {
	r.logger.Debug("Renderer::ActivateForSampling")

	if r.shouldSwizzle(t) {
		if err := r.swizzle(t, nil); err != nil {
			return err
		}
	}

	r.sink.SetTexture(t.format, t.textureWidth, t.textureHeight, t.textureWidth, t.swizzled, t.data)
	return nil
}

// Swizzling is useless with small textures, harmful for streaming ones, and
// forbidden for video-resident targets, which the draw-buffer path needs
// linear. Textures spanning less than one fetch block cannot be blocked at
// all.
func (r *Renderer) shouldSwizzle(t *Texture) bool {
	return t.swizzleable() &&
		!(t.access == AccessTarget && t.domain == StorageVideo) &&
		t.access != AccessStreaming &&
		(t.width >= 16 || t.height >= 16)
}

// BoundTarget returns the texture draws currently land in, or nil when the
// display back buffer is bound.
func (r *Renderer) BoundTarget() *Texture {
	return r.boundTarget
}

// VideoMemory exposes the renderer's arena for inspection.
func (r *Renderer) VideoMemory() *arena.Arena {
	return r.vmem
}

// SystemMemory exposes the renderer's system heap for inspection.
func (r *Renderer) SystemMemory() *SystemHeap {
	return r.heap
}

// ResidentTargetCount returns the number of render targets currently
// occupying video memory.
func (r *Renderer) ResidentTargetCount() int {
	count := 0
	for t := r.targets.Head(); t != nil; t = t.nextHotTarget() {
		count++
	}
	return count
}

// ResidentTargets returns the residency list contents in most-recent-first
// order.
func (r *Renderer) ResidentTargets() []*Texture {
	var listed []*Texture
	for t := r.targets.Head(); t != nil; t = t.nextHotTarget() {
		listed = append(listed, t)
	}
	return listed
}

// Validate performs internal consistency checks on the residency list and
// the video-memory arena.
func (r *Renderer) Validate() error {
	if err := r.targets.Validate(); err != nil {
		return err
	}

	for t := r.targets.Head(); t != nil; t = t.nextHotTarget() {
		if t.domain != StorageVideo {
			return errors.Newf("the residency list contains %s, which is not resident in video memory", t.String())
		}
	}

	return r.vmem.Validate()
}

// Statistics returns summary usage counts for the video-memory arena.
func (r *Renderer) Statistics() memutils.Statistics {
	var stats memutils.Statistics
	stats.Clear()
	r.vmem.AddStatistics(&stats)
	return stats
}

// BuildStatsString writes a JSON report of video memory, resident targets,
// and system heap usage.
func (r *Renderer) BuildStatsString(writer *jwriter.Writer) {
	obj := writer.Object()

	vmemObj := obj.Name("VideoMemory").Object()
	r.vmem.BlockJsonData(vmemObj)
	vmemObj.End()

	var residentStats memutils.DetailedStatistics
	residentStats.Clear()
	r.targets.AddDetailedStatistics(&residentStats)

	targetsObj := obj.Name("ResidentTargets").Object()
	targetsObj.Name("Count").Int(residentStats.BlockCount)
	targetsObj.Name("TotalBytes").Int(residentStats.BlockBytes)
	r.targets.BuildStatsString(targetsObj.Name("Targets"))
	targetsObj.End()

	heapObj := obj.Name("SystemHeap").Object()
	heapObj.Name("OutstandingBytes").Int(r.heap.Outstanding())
	heapObj.Name("BudgetBytes").Int(r.heap.Budget())
	heapObj.End()

	obj.End()
}

// Destroy releases the renderer's display buffers. Render targets that were
// never destroyed are reported through the logger and cause an error.
func (r *Renderer) Destroy() error {
	r.logger.Debug("Renderer::Destroy")

	if r.frontBuffer != arena.NoAllocation {
		if err := r.vmem.Free(r.frontBuffer); err != nil {
			return err
		}
		r.frontBuffer = arena.NoAllocation
	}
	if r.backBuffer != arena.NoAllocation {
		if err := r.vmem.Free(r.backBuffer); err != nil {
			return err
		}
		r.backBuffer = arena.NoAllocation
	}

	if !r.targets.IsEmpty() {
		// With the display buffers gone, every allocation still in the arena
		// is an undestroyed render target
		r.vmem.DebugLogAllAllocations(r.logger, logUnreleasedTarget)
		return errors.New("some render targets were not destroyed before the destruction of this renderer!")
	}

	return nil
}

func logUnreleasedTarget(log *slog.Logger, offset int, size int, userData any) {
	name := "empty"
	texture := ""
	if t, ok := userData.(*Texture); ok {
		texture = t.String()
		if t.Name() != "" {
			name = t.Name()
		}
	}
	log.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED TARGET] undestroyed render target",
		slog.String("texture", texture),
		slog.Int("offset", offset),
		slog.Int("size", size),
		slog.String("name", name),
	)
}

func (r *Renderer) mustOffset(alloc arena.Allocation) int {
	offset, err := r.vmem.Offset(alloc)
	if err != nil {
		panic(fmt.Sprintf("failed to locate offset for handle %+v: %+v", alloc, err))
	}
	return offset
}

func (r *Renderer) mustBytes(alloc arena.Allocation) []byte {
	data, err := r.vmem.Bytes(alloc)
	if err != nil {
		panic(fmt.Sprintf("failed to locate bytes for handle %+v: %+v", alloc, err))
	}
	return data
}
