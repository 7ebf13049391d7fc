package vram

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/gurender/vram/arena"
	"github.com/gurender/vram/gu"
	"github.com/gurender/vram/memutils"
)

// CreateFlags alter the behavior of a created Renderer
type CreateFlags int32

const (
	// RendererCreateSynchronized guards the residency list with a mutex so
	// the renderer may be driven from multiple goroutines. Without it, all
	// operations are expected to run on a single goroutine.
	RendererCreateSynchronized CreateFlags = 1 << iota
	// RendererCreateOffscreen skips allocating the double-buffered display
	// out of video memory, leaving the whole arena for render targets and
	// making Present a no-op.
	RendererCreateOffscreen
)

var createFlagsMapping = map[CreateFlags]string{
	RendererCreateSynchronized: "RendererCreateSynchronized",
	RendererCreateOffscreen:    "RendererCreateOffscreen",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var sb strings.Builder
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteRune('|')
		}
		name, ok := createFlagsMapping[bit]
		if !ok {
			name = fmt.Sprintf("0x%x", int32(bit))
		}
		sb.WriteString(name)
	}
	return sb.String()
}

const (
	// DefaultVideoMemoryBytes is the video memory pool size used when
	// CreateOptions does not specify one, sized to the PSP's 2MB of VRAM.
	DefaultVideoMemoryBytes = 2 * 1024 * 1024
	// DefaultDisplayWidth and DefaultDisplayHeight describe the PSP screen.
	DefaultDisplayWidth  = 480
	DefaultDisplayHeight = 272
)

// CreateOptions contains optional settings when creating a Renderer
type CreateOptions struct {
	// VideoMemoryBytes is the size of the video memory arena. Defaults to
	// DefaultVideoMemoryBytes when 0.
	VideoMemoryBytes int
	// SystemMemoryBudget caps the bytes handed out by the system heap. 0
	// means unlimited.
	SystemMemoryBudget int

	// DisplayWidth and DisplayHeight size the double-buffered display
	// allocated at the bottom of video memory. Both default to the PSP
	// screen dimensions when 0. Ignored with RendererCreateOffscreen.
	DisplayWidth  int
	DisplayHeight int
	// DisplayFormat is the pixel format of the display buffers. The zero
	// value is gu.PSM5650.
	DisplayFormat gu.PixelFormat

	// VSync makes Present wait for the vertical blank before swapping.
	VSync bool

	Flags CreateFlags
}

// New creates a new Renderer that submits commands to the provided sink.
//
// logger - Optional. The logger to send log output to. Defaults to slog.Default()
// sink - Required. Receives draw-buffer, display, and texture commands.
// options - Optional settings for renderer behavior.
func New(logger *slog.Logger, sink gu.CommandSink, options CreateOptions) (*Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("Renderer::New")

	if sink == nil {
		return nil, errors.New("sink is required to create a renderer")
	}

	vmemSize := options.VideoMemoryBytes
	if vmemSize == 0 {
		vmemSize = DefaultVideoMemoryBytes
	}
	if vmemSize < 1 {
		return nil, errors.Newf("invalid video memory size: %d", vmemSize)
	}
	if memutils.AlignDown(vmemSize, arena.Granularity) != vmemSize {
		return nil, errors.Newf("video memory size %d is not a multiple of the %d-byte allocation granularity", vmemSize, arena.Granularity)
	}

	r := &Renderer{
		logger:      logger,
		sink:        sink,
		createFlags: options.Flags,

		vmem: arena.New(vmemSize),
		heap: NewSystemHeap(options.SystemMemoryBudget),

		displayFormat: options.DisplayFormat,
		vsync:         options.VSync,
	}
	r.targets.Init(options.Flags&RendererCreateSynchronized != 0)

	if options.Flags&RendererCreateOffscreen == 0 {
		err := r.setUpDisplay(options)
		if err != nil {
			return nil, err
		}
	}

	return r, nil
}

// setUpDisplay carves the front and back display buffers out of the arena
// and points the hardware at them. The display stride is the width rounded
// up to a power of two, as the display controller requires.
func (r *Renderer) setUpDisplay(options CreateOptions) error {
	width := options.DisplayWidth
	if width == 0 {
		width = DefaultDisplayWidth
	}
	height := options.DisplayHeight
	if height == 0 {
		height = DefaultDisplayHeight
	}
	if width < 1 || height < 1 {
		return errors.Newf("invalid display dimensions: %dx%d", width, height)
	}

	bits, err := r.displayFormat.BitsPerPixel()
	if err != nil {
		return err
	}

	r.displayStride = memutils.NextPow2(width)
	bufferSize := r.displayStride * height * (bits >> 3)

	front, ok, err := r.vmem.Alloc(bufferSize, "front buffer")
	if err != nil {
		return err
	}
	if !ok {
		return r.outOfVideoMemory(bufferSize)
	}
	back, ok, err := r.vmem.Alloc(bufferSize, "back buffer")
	if err != nil {
		return err
	}
	if !ok {
		return r.outOfVideoMemory(bufferSize)
	}

	r.frontBuffer = front
	r.backBuffer = back

	r.sink.SetDisplayBuffer(r.mustOffset(r.frontBuffer), r.displayStride)
	r.sink.SetDrawBuffer(r.displayFormat, r.mustOffset(r.backBuffer), r.displayStride)
	return nil
}
