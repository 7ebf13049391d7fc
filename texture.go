package vram

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/gurender/vram/arena"
	"github.com/gurender/vram/gu"
)

// StorageDomain identifies which heap currently owns a texture's bytes. The
// domain is tracked explicitly and is never inferred from addresses.
type StorageDomain byte

const (
	// StorageSystem is general system memory.
	StorageSystem StorageDomain = iota
	// StorageVideo is the hardware-addressed video-memory arena.
	StorageVideo
)

var storageDomainMapping = map[StorageDomain]string{
	StorageSystem: "StorageSystem",
	StorageVideo:  "StorageVideo",
}

func (d StorageDomain) String() string {
	return storageDomainMapping[d]
}

// Access describes how a texture may be used.
type Access byte

const (
	// AccessStatic textures are written rarely and sampled often.
	AccessStatic Access = iota
	// AccessStreaming textures are rewritten every frame and are never
	// swizzled, since the transform cost would be paid on every update.
	AccessStreaming
	// AccessTarget textures can be the destination of draw commands. Only
	// these participate in the residency list.
	AccessTarget
)

var accessMapping = map[Access]string{
	AccessStatic:    "AccessStatic",
	AccessStreaming: "AccessStreaming",
	AccessTarget:    "AccessTarget",
}

func (a Access) String() string {
	return accessMapping[a]
}

// storage is the current backing of a texture: its owning domain, a byte view,
// and the arena handle when the domain is StorageVideo. Exactly one heap owns
// the bytes at any time.
type storage struct {
	domain StorageDomain
	data   []byte
	alloc  arena.Allocation
}

// Texture holds one image resource. Render-target textures additionally carry
// intrusive links for the renderer's residency list; the links are ordered
// most-recently-used to least-recently-used.
type Texture struct {
	storage

	size          int
	width, height int
	// Dimensions padded up to powers of two, as the texture unit requires.
	textureWidth, textureHeight int
	bits                        int
	format                      gu.PixelFormat
	pitch                       int
	access                      Access
	swizzled                    bool
	name                        string

	prevHot *Texture
	nextHot *Texture
}

func (t *Texture) SetName(name string) {
	t.name = name
}

func (t *Texture) Name() string {
	return t.name
}

func (t *Texture) Size() int              { return t.size }
func (t *Texture) Width() int             { return t.width }
func (t *Texture) Height() int            { return t.height }
func (t *Texture) TextureWidth() int      { return t.textureWidth }
func (t *Texture) TextureHeight() int     { return t.textureHeight }
func (t *Texture) Pitch() int             { return t.pitch }
func (t *Texture) Format() gu.PixelFormat { return t.format }
func (t *Texture) Access() Access         { return t.access }
func (t *Texture) Swizzled() bool         { return t.swizzled }
func (t *Texture) Domain() StorageDomain  { return t.domain }
func (t *Texture) IsRenderTarget() bool   { return t.access == AccessTarget }

// Data exposes the texture's current backing bytes. The slice is invalidated
// by any spill, promotion, or layout transform.
func (t *Texture) Data() []byte {
	return t.data
}

// swizzleable reports whether the texture spans at least one full hardware
// fetch block. Narrower or shorter textures cannot be expressed in blocked
// layout and always stay linear.
func (t *Texture) swizzleable() bool {
	return t.pitch >= blockWidthBytes && t.textureHeight >= blockRows
}

func (t *Texture) nextHotTarget() *Texture {
	if t.access != AccessTarget {
		panic("attempted to get the next target in the residency list, but this is not a render target")
	}
	return t.nextHot
}

func (t *Texture) setNextHot(next *Texture) {
	if t.access != AccessTarget {
		panic("attempted to set the next target in the residency list, but this is not a render target")
	}

	t.nextHot = next
}

func (t *Texture) prevHotTarget() *Texture {
	if t.access != AccessTarget {
		panic("attempted to get the prev target in the residency list, but this is not a render target")
	}

	return t.prevHot
}

func (t *Texture) setPrevHot(prev *Texture) {
	if t.access != AccessTarget {
		panic("attempted to set the prev target in the residency list, but this is not a render target")
	}

	t.prevHot = prev
}

func (t *Texture) printParameters(json *jwriter.ObjectState) {
	json.Name("Access").String(t.access.String())
	json.Name("Format").String(t.format.String())
	json.Name("Size").Int(t.size)
	json.Name("Domain").String(t.domain.String())
	json.Name("Swizzled").Bool(t.swizzled)

	if t.name != "" {
		json.Name("Name").String(t.name)
	}
}

func (t *Texture) String() string {
	return fmt.Sprintf("Texture(%dx%d %s %s)", t.width, t.height, t.format.String(), t.domain.String())
}
