package raster

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// Decode reads and decodes the image at path.
func Decode(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingSource, path)
		}
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}
	return DecodeBytes(data)
}

// DecodeBytes sniffs the format of data and decodes it, applying any EXIF
// orientation.
func DecodeBytes(data []byte) (*Buffer, error) {
	format, err := Sniff(data)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, format, err)
	}
	return FromImage(img, format), nil
}

// EncodeBytes encodes buf as format.
func EncodeBytes(buf *Buffer, format Format, opts EncodeOptions) ([]byte, error) {
	if buf.Empty() {
		return nil, fmt.Errorf("%w: empty buffer", ErrEncode)
	}
	c, ok := codecs[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	var out bytes.Buffer
	if err := c.encode(&out, buf.Image(), opts); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncode, format, err)
	}
	return out.Bytes(), nil
}

// Encode writes buf to path as format and returns path. Nothing is left at
// path when encoding or writing fails.
func Encode(buf *Buffer, path string, format Format, opts EncodeOptions) (string, error) {
	data, err := EncodeBytes(buf, format, opts)
	if err != nil {
		return "", err
	}
	if err := WriteFile(path, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return path, nil
}

// WriteFile replaces path with data through a temporary file in the same
// directory, so readers only ever see a complete file.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
