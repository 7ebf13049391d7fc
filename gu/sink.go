package gu

// CommandSink receives the hardware commands issued by the residency core.
// Offsets are byte offsets into the video-memory arena; strides are in
// pixels, as the draw-buffer hardware expects.
type CommandSink interface {
	// SetDrawBuffer makes the buffer at offset the destination of subsequent
	// draw commands.
	SetDrawBuffer(format PixelFormat, offset int, stride int)
	// SetDisplayBuffer points the display engine at the buffer at offset.
	SetDisplayBuffer(offset int, stride int)
	// SetTexture binds the provided bytes as the active sampling source.
	SetTexture(format PixelFormat, width, height, stride int, swizzled bool, data []byte)

	// EnableStencilAlphaHack enables the stencil/alpha-test state required
	// for correct clears on draw buffers with a stencil-capable alpha bit.
	EnableStencilAlphaHack()
	// DisableStencilAlphaHack reverses EnableStencilAlphaHack.
	DisableStencilAlphaHack()

	// FlushCacheRange writes back CPU caches covering data. Required after
	// any CPU-side write to a buffer the hardware DMA will read.
	FlushCacheRange(data []byte)

	// WaitVblankStart blocks until the start of the next vertical blank.
	WaitVblankStart()
}
