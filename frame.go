package vram

// SetTarget redirects draws to the provided render target, or back to the
// display back buffer when t is nil. Setting the target that is already
// bound is a no-op and does not re-rank residency.
func (r *Renderer) SetTarget(t *Texture) error {
	r.logger.Debug("Renderer::SetTarget")

	if t == r.boundTarget {
		return nil
	}

	if t == nil {
		r.bindDisplayDrawBuffer()
		r.boundTarget = nil
		return nil
	}

	return r.BindAsTarget(t)
}

// Present swaps the display's front and back buffers, optionally waiting
// for the vertical blank first. When no render target is bound, draws are
// redirected to the new back buffer. Offscreen renderers have no display,
// and present nothing.
func (r *Renderer) Present() {
	r.logger.Debug("Renderer::Present")

	if r.createFlags&RendererCreateOffscreen != 0 {
		return
	}

	if r.vsync {
		r.sink.WaitVblankStart()
	}

	r.frontBuffer, r.backBuffer = r.backBuffer, r.frontBuffer
	r.sink.SetDisplayBuffer(r.mustOffset(r.frontBuffer), r.displayStride)

	if r.boundTarget == nil {
		r.bindDisplayDrawBuffer()
	}
}

// SetVSync controls whether Present waits for the vertical blank.
func (r *Renderer) SetVSync(vsync bool) {
	r.vsync = vsync
}

// VSync reports whether Present waits for the vertical blank.
func (r *Renderer) VSync() bool {
	return r.vsync
}

func (r *Renderer) bindDisplayDrawBuffer() {
	if r.createFlags&RendererCreateOffscreen != 0 {
		return
	}
	r.sink.SetDrawBuffer(r.displayFormat, r.mustOffset(r.backBuffer), r.displayStride)

	// Display formats carry no alpha worth protecting
	r.sink.DisableStencilAlphaHack()
}
