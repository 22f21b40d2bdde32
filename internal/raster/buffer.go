package raster

import (
	"image"

	"github.com/disintegration/imaging"
)

// Buffer is a decoded image held as a non-premultiplied RGBA grid anchored at
// the origin, together with the format it was decoded from. A Buffer belongs
// to the single operation holding it and is never shared.
type Buffer struct {
	format Format
	img    *image.NRGBA
}

// New allocates a transparent width x height buffer.
func New(width, height int, format Format) *Buffer {
	return &Buffer{
		format: format,
		img:    image.NewNRGBA(image.Rect(0, 0, max(0, width), max(0, height))),
	}
}

// FromImage copies img into a new buffer.
func FromImage(img image.Image, format Format) *Buffer {
	return &Buffer{format: format, img: imaging.Clone(img)}
}

// FromNRGBA wraps img without copying. The caller hands over ownership.
func FromNRGBA(img *image.NRGBA, format Format) *Buffer {
	if img.Rect.Min != (image.Point{}) {
		return FromImage(img, format)
	}
	return &Buffer{format: format, img: img}
}

func (b *Buffer) Format() Format {
	return b.format
}

func (b *Buffer) Width() int {
	if b == nil || b.img == nil {
		return 0
	}
	return b.img.Rect.Dx()
}

func (b *Buffer) Height() int {
	if b == nil || b.img == nil {
		return 0
	}
	return b.img.Rect.Dy()
}

// Image exposes the pixel grid. Callers must not keep it past Release.
func (b *Buffer) Image() *image.NRGBA {
	return b.img
}

func (b *Buffer) Empty() bool {
	return b.Width() == 0 || b.Height() == 0
}

// Opaque reports whether every pixel is fully opaque.
func (b *Buffer) Opaque() bool {
	if b.Empty() {
		return true
	}
	return b.img.Opaque()
}

// Derive wraps a transformed grid while keeping the source format.
func (b *Buffer) Derive(img *image.NRGBA) *Buffer {
	return FromNRGBA(img, b.format)
}

// Release drops the pixel grid. It is safe to call more than once.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	b.img = nil
}
