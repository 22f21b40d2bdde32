package raster

import "errors"

var (
	ErrDecode            = errors.New("decode image")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDimensionMismatch = errors.New("image dimension mismatch")
	ErrMissingSource     = errors.New("source image is missing")
	ErrEncode            = errors.New("encode image")
)
