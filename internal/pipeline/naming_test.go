package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/dunamismax/pixelbook/internal/raster"
)

func TestArtifactKey(t *testing.T) {
	cases := []struct {
		source string
		tag    string
		format raster.Format
		want   string
	}{
		{"uploads/photos/abc_beach.jpg", "brightness", raster.JPEG, filepath.FromSlash("uploads/photos/abc_beach_brightness.jpg")},
		{"uploads/photos/abc_beach.JPEG", "framed", raster.JPEG, filepath.FromSlash("uploads/photos/abc_beach_framed.JPEG")},
		{"scan.png", "800x600", raster.PNG, "scan_800x600.png"},
		{"uploads/noext", "sepia", raster.GIF, filepath.FromSlash("uploads/noext_sepia.gif")},
		{"a/b.c/photo.v2.jpg", "black_white", raster.JPEG, filepath.FromSlash("a/b.c/photo.v2_black_white.jpg")},
		{"photo.jpg", "../evil", raster.JPEG, "photo____evil.jpg"},
	}
	for _, c := range cases {
		if got := ArtifactKey(c.source, c.tag, c.format); got != c.want {
			t.Fatalf("ArtifactKey(%q, %q) = %q, want %q", c.source, c.tag, got, c.want)
		}
	}
}

func TestExportKey(t *testing.T) {
	if got := ExportKey("uploads/photobooks", "42"); got != filepath.Join("uploads", "photobooks", "photobook_42.pdf") {
		t.Fatalf("unexpected export key %q", got)
	}
	if got := ExportKey("", "a/b"); got != "photobook_a_b.pdf" {
		t.Fatalf("unexpected export key %q", got)
	}
}
