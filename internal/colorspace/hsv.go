// Package colorspace converts between RGB and HSV.
//
// Hue is expressed in degrees in [0,360), saturation and value in [0,1].
// RGB channels are 8-bit.
package colorspace

import "math"

// RGBToHSV converts an 8-bit RGB triple. Achromatic colors get hue 0.
func RGBToHSV(r, g, b uint8) (h, s, v float64) {
	rf := float64(r) / 255
	gf := float64(g) / 255
	bf := float64(b) / 255

	maxC := math.Max(rf, math.Max(gf, bf))
	minC := math.Min(rf, math.Min(gf, bf))
	v = maxC

	delta := maxC - minC
	if maxC != 0 {
		s = delta / maxC
	}
	if delta == 0 {
		return 0, s, v
	}

	switch maxC {
	case rf:
		h = (gf - bf) / delta
	case gf:
		h = 2 + (bf-rf)/delta
	default:
		h = 4 + (rf-gf)/delta
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return h, s, v
}

// HSVToRGB converts back to 8-bit RGB, rounding to the nearest integer.
func HSVToRGB(h, s, v float64) (r, g, b uint8) {
	s = clampUnit(s)
	v = clampUnit(v)
	if s == 0 {
		c := to8(v)
		return c, c, c
	}

	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	h /= 60
	i := math.Floor(h)
	f := h - i
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	var rf, gf, bf float64
	switch int(i) % 6 {
	case 0:
		rf, gf, bf = v, t, p
	case 1:
		rf, gf, bf = q, v, p
	case 2:
		rf, gf, bf = p, v, t
	case 3:
		rf, gf, bf = p, q, v
	case 4:
		rf, gf, bf = t, p, v
	default:
		rf, gf, bf = v, p, q
	}
	return to8(rf), to8(gf), to8(bf)
}

// ScaleSaturation multiplies the saturation of every pixel in pix by factor,
// capping it at 1. pix holds packed 4-byte pixels (R, G, B, A) such as a row
// of an image.NRGBA; alpha is left untouched. Pixels are rewritten in place.
func ScaleSaturation(pix []uint8, factor float64) {
	if factor < 0 {
		factor = 0
	}
	for i := 0; i+3 < len(pix); i += 4 {
		h, s, v := RGBToHSV(pix[i], pix[i+1], pix[i+2])
		s *= factor
		if s > 1 {
			s = 1
		}
		pix[i], pix[i+1], pix[i+2] = HSVToRGB(h, s, v)
	}
}

func to8(x float64) uint8 {
	x = math.Round(x * 255)
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return uint8(x)
}

func clampUnit(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
