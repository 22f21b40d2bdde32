// Package filter applies named color adjustments to raster buffers.
package filter

import (
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelbook/internal/colorspace"
	"github.com/dunamismax/pixelbook/internal/raster"
)

type Kind string

const (
	Brightness Kind = "brightness"
	Contrast   Kind = "contrast"
	Saturation Kind = "saturation"
	BlackWhite Kind = "black_white"
	Sepia      Kind = "sepia"
	Vintage    Kind = "vintage"
)

// DefaultIntensity is the neutral setting for brightness, contrast and saturation.
const DefaultIntensity = 50

// Sepia tint added to every channel after the grayscale pass.
const (
	sepiaR = 90
	sepiaG = 60
	sepiaB = 40
)

// Known reports whether Apply does anything for k.
func (k Kind) Known() bool {
	switch k {
	case Brightness, Contrast, Saturation, BlackWhite, Sepia, Vintage:
		return true
	default:
		return false
	}
}

type Request struct {
	Kind      Kind
	Intensity int
}

// NewRequest normalizes the kind name and clamps intensity to [0,100].
func NewRequest(kind string, intensity int) Request {
	return Request{
		Kind:      Kind(strings.ToLower(strings.TrimSpace(kind))),
		Intensity: min(100, max(0, intensity)),
	}
}

// Apply returns a new buffer with the filter applied. The source buffer is
// not modified. For unknown kinds it returns src itself and false.
func Apply(src *raster.Buffer, req Request) (*raster.Buffer, bool) {
	intensity := min(100, max(0, req.Intensity))
	img := src.Image()

	var out *image.NRGBA
	switch req.Kind {
	case Brightness:
		out = adjustBrightness(img, (intensity-50)*2)
	case Contrast:
		out = adjustContrast(img, 50-intensity)
	case Saturation:
		out = scaleSaturation(img, float64(intensity)/100*2)
	case BlackWhite:
		out = imaging.Grayscale(img)
	case Sepia, Vintage:
		out = colorize(imaging.Grayscale(img), sepiaR, sepiaG, sepiaB)
	default:
		return src, false
	}
	return src.Derive(out), true
}

// adjustBrightness adds delta to every color channel.
func adjustBrightness(img image.Image, delta int) *image.NRGBA {
	return applyLUT(img, buildLUT(func(v float64) float64 {
		return v + float64(delta)
	}))
}

// adjustContrast follows the libgd contrast curve: delta 0 is the identity,
// positive values flatten towards mid-gray and negative values steepen.
func adjustContrast(img image.Image, delta int) *image.NRGBA {
	c := (100 - float64(delta)) / 100
	c *= c
	return applyLUT(img, buildLUT(func(v float64) float64 {
		return ((v/255-0.5)*c + 0.5) * 255
	}))
}

func scaleSaturation(img *image.NRGBA, factor float64) *image.NRGBA {
	out := imaging.Clone(img)
	rowLen := out.Rect.Dx() * 4
	for y := 0; y < out.Rect.Dy(); y++ {
		off := y * out.Stride
		colorspace.ScaleSaturation(out.Pix[off:off+rowLen], factor)
	}
	return out
}

func colorize(img image.Image, dr, dg, db int) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		c.R = clamp8(float64(int(c.R) + dr))
		c.G = clamp8(float64(int(c.G) + dg))
		c.B = clamp8(float64(int(c.B) + db))
		return c
	})
}

func buildLUT(fn func(v float64) float64) [256]uint8 {
	var lut [256]uint8
	for i := range lut {
		lut[i] = clamp8(math.Round(fn(float64(i))))
	}
	return lut
}

func applyLUT(img image.Image, lut [256]uint8) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: lut[c.R], G: lut[c.G], B: lut[c.B], A: c.A}
	})
}

func clamp8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
