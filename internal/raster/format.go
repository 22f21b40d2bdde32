package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"

	"github.com/disintegration/imaging"
)

// Format is one of the raster formats the pipeline reads and writes.
type Format int

const (
	FormatUnknown Format = iota
	JPEG
	PNG
	GIF
)

// DefaultJPEGQuality is used whenever a caller does not ask for a specific quality.
const DefaultJPEGQuality = 90

var formatsByName = map[string]Format{
	"jpeg": JPEG,
	"jpg":  JPEG,
	"png":  PNG,
	"gif":  GIF,
}

func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	case GIF:
		return "gif"
	default:
		return "unknown"
	}
}

func (f Format) Extension() string {
	switch f {
	case JPEG:
		return ".jpg"
	case PNG:
		return ".png"
	case GIF:
		return ".gif"
	default:
		return ""
	}
}

func (f Format) ContentType() string {
	switch f {
	case JPEG:
		return "image/jpeg"
	case PNG:
		return "image/png"
	case GIF:
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// ParseFormat accepts the usual spellings of the supported format names.
func ParseFormat(name string) (Format, error) {
	f, ok := formatsByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
	return f, nil
}

// Sniff identifies the format from the stream header. The file extension is
// never consulted.
func Sniff(data []byte) (Format, error) {
	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return FormatUnknown, ErrUnsupportedFormat
		}
		return FormatUnknown, fmt.Errorf("%w: read header: %v", ErrDecode, err)
	}

	f, ok := formatsByName[name]
	if !ok {
		return FormatUnknown, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return FormatUnknown, fmt.Errorf("%w: %s header has invalid dimensions %dx%d", ErrDecode, name, cfg.Width, cfg.Height)
	}
	return f, nil
}

// EncodeOptions tunes the encoders. Quality only applies to JPEG.
type EncodeOptions struct {
	JPEGQuality    int
	PNGCompression png.CompressionLevel
}

// DefaultEncodeOptions matches the defaults used for derived artifacts:
// JPEG at quality 90 and PNG at the highest lossless compression.
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{
		JPEGQuality:    DefaultJPEGQuality,
		PNGCompression: png.BestCompression,
	}
}

func (o EncodeOptions) jpegQuality() int {
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		return DefaultJPEGQuality
	}
	return o.JPEGQuality
}

type codec interface {
	encode(w io.Writer, img image.Image, opts EncodeOptions) error
}

type jpegCodec struct{}

func (jpegCodec) encode(w io.Writer, img image.Image, opts EncodeOptions) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(opts.jpegQuality()))
}

type pngCodec struct{}

func (pngCodec) encode(w io.Writer, img image.Image, opts EncodeOptions) error {
	return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(opts.PNGCompression))
}

type gifCodec struct{}

func (gifCodec) encode(w io.Writer, img image.Image, _ EncodeOptions) error {
	return imaging.Encode(w, img, imaging.GIF, imaging.GIFNumColors(256))
}

var codecs = map[Format]codec{
	JPEG: jpegCodec{},
	PNG:  pngCodec{},
	GIF:  gifCodec{},
}
