//go:build !govips || !cgo

package resize

import (
	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelbook/internal/raster"
)

func Startup() error {
	return nil
}

func Shutdown() {}

func newResampler() Resampler {
	return lanczosResampler{}
}

type lanczosResampler struct{}

func (lanczosResampler) Resize(src *raster.Buffer, width, height int) (*raster.Buffer, error) {
	if err := validate(src, width, height); err != nil {
		return nil, err
	}
	return src.Derive(imaging.Resize(src.Image(), width, height, imaging.Lanczos)), nil
}
