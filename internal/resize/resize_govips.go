//go:build govips && cgo

package resize

import (
	"fmt"
	"image/png"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelbook/internal/raster"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func newResampler() Resampler {
	return vipsResampler{}
}

type vipsResampler struct{}

func (vipsResampler) Resize(src *raster.Buffer, width, height int) (*raster.Buffer, error) {
	if err := validate(src, width, height); err != nil {
		return nil, err
	}
	if err := Startup(); err != nil {
		return nil, err
	}

	staged, err := raster.EncodeBytes(src, raster.PNG, raster.EncodeOptions{PNGCompression: png.NoCompression})
	if err != nil {
		return nil, fmt.Errorf("stage image for libvips: %w", err)
	}

	img, err := vips.NewImageFromBuffer(staged)
	if err != nil {
		return nil, fmt.Errorf("load image into libvips: %w", err)
	}
	defer img.Close()

	hScale := float64(width) / float64(img.Width())
	vScale := float64(height) / float64(img.Height())
	if err := img.ResizeWithVScale(hScale, vScale, vips.KernelLanczos3); err != nil {
		return nil, fmt.Errorf("resize image: %w", err)
	}

	out, _, err := img.ExportPng(vips.NewPngExportParams())
	if err != nil {
		return nil, fmt.Errorf("export resized image: %w", err)
	}

	resized, err := raster.DecodeBytes(out)
	if err != nil {
		return nil, err
	}

	// libvips rounds scaled sizes; snap any off-by-one result to the exact target.
	result := resized.Image()
	if resized.Width() != width || resized.Height() != height {
		result = imaging.Resize(result, width, height, imaging.Lanczos)
	}
	return src.Derive(result), nil
}
