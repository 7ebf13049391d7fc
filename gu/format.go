// Package gu models the deferred-command interface of the target graphics
// hardware. The residency core issues draw-buffer binds, fixed-function state
// toggles, and cache writebacks through a CommandSink; a Recorder
// implementation is provided for tests and headless use.
package gu

import "github.com/pkg/errors"

// PixelFormat identifies one of the texel encodings supported by the
// hardware's texture unit and draw-buffer path.
type PixelFormat uint32

const (
	// PSM5650 is 16-bit RGB with no alpha.
	PSM5650 PixelFormat = iota
	// PSM5551 is 16-bit RGBA with a single alpha bit, which doubles as the
	// stencil bit in the draw-buffer path.
	PSM5551
	// PSM4444 is 16-bit RGBA.
	PSM4444
	// PSM8888 is 32-bit RGBA.
	PSM8888
)

var pixelFormatMapping = map[PixelFormat]string{
	PSM5650: "PSM5650",
	PSM5551: "PSM5551",
	PSM4444: "PSM4444",
	PSM8888: "PSM8888",
}

func (f PixelFormat) String() string {
	str, ok := pixelFormatMapping[f]
	if !ok {
		return "unknown pixel format"
	}
	return str
}

// ErrUnsupportedFormat is returned when a texture is created with a
// PixelFormat the hardware does not recognize.
var ErrUnsupportedFormat error = errors.New("unsupported pixel format")

// BitsPerPixel returns the storage size of one texel for the format.
func (f PixelFormat) BitsPerPixel() (int, error) {
	switch f {
	case PSM5650, PSM5551, PSM4444:
		return 16, nil
	case PSM8888:
		return 32, nil
	}

	return 0, errors.WithMessagef(ErrUnsupportedFormat, "format value %d", f)
}
