package vram

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"

	"github.com/gurender/vram/gu"
	"github.com/gurender/vram/gu/mock_gu"
)

func newTestRenderer(t *testing.T, options CreateOptions) *Renderer {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard))
	r, err := New(logger, &gu.Recorder{}, options)
	require.NoError(t, err)
	return r
}

func newRecordedRenderer(t *testing.T, options CreateOptions) (*Renderer, *gu.Recorder) {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard))
	recorder := &gu.Recorder{}
	r, err := New(logger, recorder, options)
	require.NoError(t, err)
	return r, recorder
}

// targetKiB is the size of a 64x64 32-bit render target.
const targetKiB = 64 * 64 * 4

func residentNames(r *Renderer) []string {
	var names []string
	for _, tex := range r.ResidentTargets() {
		names = append(names, tex.Name())
	}
	return names
}

func makeNamedTarget(t *testing.T, r *Renderer, name string) *Texture {
	t.Helper()

	tex, err := r.CreateRenderTarget(64, 64, gu.PSM8888)
	require.NoError(t, err)
	tex.SetName(name)
	return tex
}

func TestCreateRenderTargetUnderCapacity(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 4 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	a := makeNamedTarget(t, r, "a")
	b := makeNamedTarget(t, r, "b")
	c := makeNamedTarget(t, r, "c")

	// Everything fits, nothing spills
	require.Equal(t, StorageVideo, a.Domain())
	require.Equal(t, StorageVideo, b.Domain())
	require.Equal(t, StorageVideo, c.Domain())
	require.Equal(t, 0, r.SystemMemory().Outstanding())
	require.Equal(t, targetKiB, r.VideoMemory().SumFreeSize())

	require.Equal(t, []string{"c", "b", "a"}, residentNames(r))
	require.NoError(t, r.Validate())

	r.DestroyTexture(a)
	r.DestroyTexture(b)
	r.DestroyTexture(c)
	require.NoError(t, r.Destroy())
}

func TestBindReRanksResidency(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 4 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	a := makeNamedTarget(t, r, "a")
	b := makeNamedTarget(t, r, "b")
	require.Equal(t, []string{"b", "a"}, residentNames(r))

	require.NoError(t, r.BindAsTarget(a))
	require.Equal(t, []string{"a", "b"}, residentNames(r))
	require.Equal(t, a, r.BoundTarget())
	require.NoError(t, r.Validate())

	r.DestroyTexture(a)
	require.Nil(t, r.BoundTarget())
	r.DestroyTexture(b)
	require.NoError(t, r.Destroy())
}

func TestSamplingDoesNotReRankResidency(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 4 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	a := makeNamedTarget(t, r, "a")
	b := makeNamedTarget(t, r, "b")

	require.NoError(t, r.ActivateForSampling(a))
	require.Equal(t, []string{"b", "a"}, residentNames(r))

	r.DestroyTexture(a)
	r.DestroyTexture(b)
	require.NoError(t, r.Destroy())
}

func TestEvictionSpillsLeastRecentTarget(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 3 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	t1 := makeNamedTarget(t, r, "t1")
	t2 := makeNamedTarget(t, r, "t2")
	t3 := makeNamedTarget(t, r, "t3")
	require.Equal(t, 0, r.VideoMemory().LargestFreeBlock())

	// A fourth target evicts the coldest, t1
	t4 := makeNamedTarget(t, r, "t4")
	require.Equal(t, []string{"t4", "t3", "t2"}, residentNames(r))
	require.Equal(t, StorageSystem, t1.Domain())
	require.True(t, t1.Swizzled())
	require.Equal(t, targetKiB, r.SystemMemory().Outstanding())
	require.NoError(t, r.Validate())

	// Binding the spilled t1 promotes it back, evicting the new coldest, t2
	require.NoError(t, r.BindAsTarget(t1))
	require.Equal(t, []string{"t1", "t4", "t3"}, residentNames(r))
	require.Equal(t, StorageVideo, t1.Domain())
	require.False(t, t1.Swizzled())
	require.Equal(t, StorageSystem, t2.Domain())
	require.NoError(t, r.Validate())

	for _, tex := range []*Texture{t1, t2, t3, t4} {
		r.DestroyTexture(tex)
	}
	require.Equal(t, 0, r.SystemMemory().Outstanding())
	require.True(t, r.VideoMemory().IsEmpty())
	require.NoError(t, r.Destroy())
}

func TestEvictionWithTwoTargetCapacity(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 2 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	t1 := makeNamedTarget(t, r, "t1")
	t2 := makeNamedTarget(t, r, "t2")

	// Room for exactly two: t3 evicts the coldest, t1
	t3 := makeNamedTarget(t, r, "t3")
	require.Equal(t, []string{"t3", "t2"}, residentNames(r))
	require.Equal(t, StorageSystem, t1.Domain())

	// Binding t2 warms it
	require.NoError(t, r.BindAsTarget(t2))
	require.Equal(t, []string{"t2", "t3"}, residentNames(r))

	// So t4 evicts t3
	t4 := makeNamedTarget(t, r, "t4")
	require.Equal(t, []string{"t4", "t2"}, residentNames(r))
	require.Equal(t, StorageSystem, t3.Domain())
	require.NoError(t, r.Validate())

	for _, tex := range []*Texture{t1, t2, t3, t4} {
		r.DestroyTexture(tex)
	}
	require.NoError(t, r.Destroy())
}

func TestSpillPreservesTargetContents(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 1 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	t1 := makeNamedTarget(t, r, "t1")
	pixels := patternBytes(t1.Size())
	copy(t1.Data(), pixels)

	// t2 forces t1 out, t1's bind forces t2 out
	t2 := makeNamedTarget(t, r, "t2")
	require.Equal(t, StorageSystem, t1.Domain())

	require.NoError(t, r.BindAsTarget(t1))
	require.Equal(t, StorageVideo, t1.Domain())
	require.Equal(t, pixels, t1.Data())

	r.DestroyTexture(t1)
	r.DestroyTexture(t2)
	require.NoError(t, r.Destroy())
}

func TestOversizedTargetFailsCleanly(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 2 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	// With nothing to evict the failure is immediate
	_, err := r.CreateRenderTarget(256, 256, gu.PSM8888)
	require.Error(t, err)

	var oom *OutOfVideoMemoryError
	require.True(t, errors.As(err, &oom))
	require.Equal(t, 256*256*4, oom.WantedBytes)
	require.Equal(t, 2*targetKiB, oom.AvailableBytes)
	require.Equal(t, 2*targetKiB, oom.LargestFreeBlock)
	require.True(t, r.VideoMemory().IsEmpty())

	t1 := makeNamedTarget(t, r, "t1")

	_, err = r.CreateRenderTarget(256, 256, gu.PSM8888)
	require.Error(t, err)
	require.True(t, errors.As(err, &oom))

	// The failed request spilled everything it could
	require.Empty(t, residentNames(r))
	require.Equal(t, StorageSystem, t1.Domain())
	require.NoError(t, r.Validate())

	r.DestroyTexture(t1)
	require.NoError(t, r.Destroy())
}

func TestBindHeadTargetStillIssuesCommands(t *testing.T) {
	r, recorder := newRecordedRenderer(t, CreateOptions{
		VideoMemoryBytes: 4 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	a := makeNamedTarget(t, r, "a")
	b := makeNamedTarget(t, r, "b")
	require.NoError(t, r.BindAsTarget(a))

	recorder.Reset()
	require.NoError(t, r.BindAsTarget(a))

	commands := recorder.Commands()
	require.Len(t, commands, 2)
	require.Equal(t, gu.OpSetDrawBuffer, commands[0].Op)
	require.Equal(t, gu.PSM8888, commands[0].Format)
	require.Equal(t, 64, commands[0].Stride)
	require.Equal(t, gu.OpDisableStencilAlphaHack, commands[1].Op)
	require.Equal(t, []string{"a", "b"}, residentNames(r))

	r.DestroyTexture(a)
	r.DestroyTexture(b)
	require.NoError(t, r.Destroy())
}

func TestBindStencilFormatEnablesAlphaHack(t *testing.T) {
	r, recorder := newRecordedRenderer(t, CreateOptions{
		VideoMemoryBytes: 4 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	stencilTarget, err := r.CreateRenderTarget(64, 64, gu.PSM5551)
	require.NoError(t, err)

	recorder.Reset()
	require.NoError(t, r.BindAsTarget(stencilTarget))

	commands := recorder.Commands()
	require.Len(t, commands, 2)
	require.Equal(t, gu.OpSetDrawBuffer, commands[0].Op)
	require.Equal(t, gu.OpEnableStencilAlphaHack, commands[1].Op)

	r.DestroyTexture(stencilTarget)
	require.NoError(t, r.Destroy())
}

func TestOwnershipAccounting(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 2 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	vramFree := r.VideoMemory().SumFreeSize()

	target := makeNamedTarget(t, r, "target")
	require.Equal(t, vramFree-targetKiB, r.VideoMemory().SumFreeSize())
	require.Equal(t, 0, r.SystemMemory().Outstanding())

	stats := r.Statistics()
	require.Equal(t, 1, stats.AllocationCount)
	require.Equal(t, targetKiB, stats.AllocationBytes)
	require.Equal(t, 2*targetKiB, stats.BlockBytes)

	static, err := r.CreateTexture(32, 32, gu.PSM8888, AccessStatic)
	require.NoError(t, err)
	require.Equal(t, static.Size(), r.SystemMemory().Outstanding())

	require.NoError(t, r.spillToSystem(target))
	r.targets.Remove(target)
	require.Equal(t, vramFree, r.VideoMemory().SumFreeSize())
	require.Equal(t, static.Size()+target.Size(), r.SystemMemory().Outstanding())

	r.DestroyTexture(target)
	require.Equal(t, static.Size(), r.SystemMemory().Outstanding())
	r.DestroyTexture(static)
	require.Equal(t, 0, r.SystemMemory().Outstanding())
	require.True(t, r.VideoMemory().IsEmpty())

	require.NoError(t, r.Destroy())
}

func TestBindNonTargetPanics(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 2 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	static, err := r.CreateTexture(32, 32, gu.PSM8888, AccessStatic)
	require.NoError(t, err)

	require.Panics(t, func() {
		_ = r.BindAsTarget(static)
	})

	r.DestroyTexture(static)
	require.NoError(t, r.Destroy())
}

func TestWritePixels(t *testing.T) {
	r, recorder := newRecordedRenderer(t, CreateOptions{
		VideoMemoryBytes: 2 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	tex, err := r.CreateTexture(32, 32, gu.PSM8888, AccessStatic)
	require.NoError(t, err)

	rowBytes := 32 * 4
	pixels := patternBytes(rowBytes * 32)

	recorder.Reset()
	require.NoError(t, r.WritePixels(tex, pixels, rowBytes))
	require.Equal(t, pixels, tex.Data())

	commands := recorder.Commands()
	require.Len(t, commands, 1)
	require.Equal(t, gu.OpFlushCacheRange, commands[0].Op)

	// An over-wide source pitch lands each row at the right place
	widePitch := rowBytes + 16
	widePixels := make([]byte, widePitch*32)
	for row := 0; row < 32; row++ {
		copy(widePixels[row*widePitch:row*widePitch+rowBytes], pixels[row*rowBytes:(row+1)*rowBytes])
	}
	require.NoError(t, r.WritePixels(tex, widePixels, widePitch))
	require.Equal(t, pixels, tex.Data())

	// Short buffers and pitches are rejected
	require.Error(t, r.WritePixels(tex, pixels[:len(pixels)-1], rowBytes))
	require.Error(t, r.WritePixels(tex, pixels, rowBytes-1))

	r.DestroyTexture(tex)
	require.NoError(t, r.Destroy())
}

func TestWritePixelsUnswizzlesFirst(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 2 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	tex, err := r.CreateTexture(32, 32, gu.PSM8888, AccessStatic)
	require.NoError(t, err)

	require.NoError(t, r.ActivateForSampling(tex))
	require.True(t, tex.Swizzled())

	pixels := patternBytes(tex.Size())
	require.NoError(t, r.WritePixels(tex, pixels, 32*4))
	require.False(t, tex.Swizzled())
	require.Equal(t, pixels, tex.Data())

	r.DestroyTexture(tex)
	require.NoError(t, r.Destroy())
}

func TestActivateForSampling(t *testing.T) {
	r, recorder := newRecordedRenderer(t, CreateOptions{
		VideoMemoryBytes: 4 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	// Static textures big enough to matter get swizzled
	static, err := r.CreateTexture(32, 32, gu.PSM8888, AccessStatic)
	require.NoError(t, err)
	recorder.Reset()
	require.NoError(t, r.ActivateForSampling(static))
	require.True(t, static.Swizzled())

	commands := recorder.Commands()
	require.Equal(t, gu.OpFlushCacheRange, commands[0].Op)
	setTexture := commands[len(commands)-1]
	require.Equal(t, gu.OpSetTexture, setTexture.Op)
	require.True(t, setTexture.Swizzled)
	require.Equal(t, 32, setTexture.Width)

	// Streaming textures stay linear
	streaming, err := r.CreateTexture(32, 32, gu.PSM8888, AccessStreaming)
	require.NoError(t, err)
	require.NoError(t, r.ActivateForSampling(streaming))
	require.False(t, streaming.Swizzled())

	// Tiny textures are not worth the transform
	tiny, err := r.CreateTexture(8, 8, gu.PSM8888, AccessStatic)
	require.NoError(t, err)
	require.NoError(t, r.ActivateForSampling(tiny))
	require.False(t, tiny.Swizzled())

	// Video-resident render targets must stay linear for the draw path
	target := makeNamedTarget(t, r, "target")
	require.NoError(t, r.ActivateForSampling(target))
	require.False(t, target.Swizzled())

	for _, tex := range []*Texture{static, streaming, tiny, target} {
		r.DestroyTexture(tex)
	}
	require.NoError(t, r.Destroy())
}

func TestSamplingShortWideTextureStaysLinear(t *testing.T) {
	r, recorder := newRecordedRenderer(t, CreateOptions{
		VideoMemoryBytes: 2 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	// Wide enough to clear the swizzle size threshold, but shorter than one
	// fetch block, so the blocked layout cannot hold it
	tex, err := r.CreateTexture(16, 2, gu.PSM8888, AccessStatic)
	require.NoError(t, err)
	pixels := patternBytes(tex.Size())
	copy(tex.Data(), pixels)

	recorder.Reset()
	require.NoError(t, r.ActivateForSampling(tex))
	require.False(t, tex.Swizzled())
	require.Equal(t, pixels, tex.Data())

	commands := recorder.Commands()
	setTexture := commands[len(commands)-1]
	require.Equal(t, gu.OpSetTexture, setTexture.Op)
	require.False(t, setTexture.Swizzled)

	r.DestroyTexture(tex)
	require.NoError(t, r.Destroy())
}

func TestEvictionShortTargetSpillsLinear(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 128,
		Flags:            RendererCreateOffscreen,
	})

	t1, err := r.CreateRenderTarget(16, 2, gu.PSM8888)
	require.NoError(t, err)
	t1.SetName("t1")
	pixels := patternBytes(t1.Size())
	copy(t1.Data(), pixels)

	// The second target evicts t1, which is too short to block and must
	// spill in linear layout
	t2, err := r.CreateRenderTarget(16, 2, gu.PSM8888)
	require.NoError(t, err)
	require.Equal(t, StorageSystem, t1.Domain())
	require.False(t, t1.Swizzled())
	require.Equal(t, pixels, t1.Data())

	// And promote back by plain copy
	require.NoError(t, r.BindAsTarget(t1))
	require.Equal(t, StorageVideo, t1.Domain())
	require.Equal(t, pixels, t1.Data())
	require.NoError(t, r.Validate())

	r.DestroyTexture(t1)
	r.DestroyTexture(t2)
	require.NoError(t, r.Destroy())
}

func TestTinyTargetAllocationRoundsToGranularity(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 16,
		Flags:            RendererCreateOffscreen,
	})

	// A 2x2 16-bit target needs only 8 bytes but occupies a full granule
	t1, err := r.CreateRenderTarget(2, 2, gu.PSM5650)
	require.NoError(t, err)
	require.Equal(t, 0, r.VideoMemory().LargestFreeBlock())

	// So the second one must evict it rather than squeeze in beside it
	t2, err := r.CreateRenderTarget(2, 2, gu.PSM5650)
	require.NoError(t, err)
	require.Equal(t, StorageSystem, t1.Domain())
	require.NoError(t, r.Validate())

	r.DestroyTexture(t1)
	r.DestroyTexture(t2)
	require.NoError(t, r.Destroy())
}

func TestDestroyReportsLeakedTargets(t *testing.T) {
	var logged bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logged))
	r, err := New(logger, &gu.Recorder{}, CreateOptions{
		VideoMemoryBytes: 2 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})
	require.NoError(t, err)

	leaked := makeNamedTarget(t, r, "leaked")
	require.Error(t, r.Destroy())
	require.Contains(t, logged.String(), "[UNRELEASED TARGET]")
	require.Contains(t, logged.String(), "leaked")

	r.DestroyTexture(leaked)
	require.NoError(t, r.Destroy())
}

func TestBuildStatsString(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 4 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	a := makeNamedTarget(t, r, "a")
	b := makeNamedTarget(t, r, "b")

	writer := jwriter.NewWriter()
	r.BuildStatsString(&writer)
	require.NoError(t, writer.Error())

	var report struct {
		VideoMemory struct {
			TotalBytes       int
			UnusedBytes      int
			Allocations      int
			UnusedRanges     int
			LargestFreeBlock int
		}
		ResidentTargets struct {
			Count      int
			TotalBytes int
			Targets    []map[string]any
		}
		SystemHeap struct {
			OutstandingBytes int
			BudgetBytes      int
		}
	}
	require.NoError(t, json.Unmarshal(writer.Bytes(), &report))

	require.Equal(t, 4*targetKiB, report.VideoMemory.TotalBytes)
	require.Equal(t, 2*targetKiB, report.VideoMemory.UnusedBytes)
	require.Equal(t, 2, report.VideoMemory.Allocations)
	require.Equal(t, 2, report.ResidentTargets.Count)
	require.Equal(t, 2*targetKiB, report.ResidentTargets.TotalBytes)
	require.Len(t, report.ResidentTargets.Targets, 2)
	require.Equal(t, 0, report.SystemHeap.OutstandingBytes)

	r.DestroyTexture(a)
	r.DestroyTexture(b)
	require.NoError(t, r.Destroy())
}

func TestCreateTextureRejectsBadArguments(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes: 2 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})

	_, err := r.CreateTexture(0, 32, gu.PSM8888, AccessStatic)
	require.Error(t, err)

	_, err = r.CreateTexture(32, 32, gu.PixelFormat(99), AccessStatic)
	require.Error(t, err)
	require.ErrorIs(t, err, gu.ErrUnsupportedFormat)

	require.NoError(t, r.Destroy())
}

func TestNewRejectsUnalignedVideoMemory(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard))
	_, err := New(logger, &gu.Recorder{}, CreateOptions{
		VideoMemoryBytes: 1000,
		Flags:            RendererCreateOffscreen,
	})
	require.Error(t, err)
}

func TestBindCommandOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger := slog.New(slog.NewJSONHandler(io.Discard))
	sink := mock_gu.NewMockCommandSink(ctrl)
	r, err := New(logger, sink, CreateOptions{
		VideoMemoryBytes: 2 * targetKiB,
		Flags:            RendererCreateOffscreen,
	})
	require.NoError(t, err)

	target, err := r.CreateRenderTarget(64, 64, gu.PSM8888)
	require.NoError(t, err)

	gomock.InOrder(
		sink.EXPECT().SetDrawBuffer(gu.PSM8888, 0, 64),
		sink.EXPECT().DisableStencilAlphaHack(),
	)
	require.NoError(t, r.BindAsTarget(target))

	r.DestroyTexture(target)
	require.NoError(t, r.Destroy())
}

func TestSystemMemoryBudget(t *testing.T) {
	r := newTestRenderer(t, CreateOptions{
		VideoMemoryBytes:   1 * targetKiB,
		SystemMemoryBudget: targetKiB / 2,
		Flags:              RendererCreateOffscreen,
	})

	t1 := makeNamedTarget(t, r, "t1")

	// The spill has nowhere to go: a second target cannot be created
	_, err := r.CreateRenderTarget(64, 64, gu.PSM8888)
	require.Error(t, err)

	var failed *AllocationFailedError
	require.True(t, errors.As(err, &failed))

	r.DestroyTexture(t1)
	require.NoError(t, r.Destroy())
}
