package pipeline

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelbook/internal/raster"
)

// ArtifactKey derives "<dir>/<stem>_<tag><ext>" from the source key, keeping
// the source's own extension. Names depend only on the source and the tag, so
// repeating an operation overwrites its earlier output.
func ArtifactKey(source, tag string, format raster.Format) string {
	dir, base := path.Split(filepath.ToSlash(source))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		ext = format.Extension()
	}
	return filepath.FromSlash(dir + stem + "_" + sanitizePathToken(tag) + ext)
}

// ExportKey is "<dir>/photobook_<id>.pdf".
func ExportKey(dir, photobookID string) string {
	name := "photobook_" + sanitizePathToken(photobookID) + ".pdf"
	if strings.TrimSpace(dir) == "" {
		return name
	}
	return filepath.Join(dir, name)
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
