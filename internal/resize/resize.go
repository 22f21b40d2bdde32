// Package resize produces exact-size resampled copies of raster buffers.
package resize

import (
	"errors"
	"fmt"

	"github.com/dunamismax/pixelbook/internal/raster"
)

var ErrInvalidSize = errors.New("resize requires positive width and height")

// Resampler scales a buffer to exactly width x height. Aspect ratio is the
// caller's concern.
type Resampler interface {
	Resize(src *raster.Buffer, width, height int) (*raster.Buffer, error)
}

var defaultResampler = newResampler()

// Resize scales src with the build's default resampler.
func Resize(src *raster.Buffer, width, height int) (*raster.Buffer, error) {
	return defaultResampler.Resize(src, width, height)
}

// Default returns the resampler selected for this build.
func Default() Resampler {
	return defaultResampler
}

func validate(src *raster.Buffer, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: got %dx%d", ErrInvalidSize, width, height)
	}
	if src.Empty() {
		return fmt.Errorf("%w: source has no pixels", raster.ErrDimensionMismatch)
	}
	return nil
}
