package photobook

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/dunamismax/pixelbook/internal/domain"
	"github.com/dunamismax/pixelbook/internal/raster"
	"github.com/rs/zerolog"
)

var pageObject = regexp.MustCompile(`/Type /Page[^s]`)

func TestGenerateKeepsPageForMissingPhoto(t *testing.T) {
	tmp := t.TempDir()
	first := filepath.Join(tmp, "first.jpg")
	third := filepath.Join(tmp, "third.jpg")
	writeFile(t, first, buildJPEG(t, 400, 300))
	writeFile(t, third, buildJPEG(t, 300, 400))

	assembler := newTestAssembler(t, tmp)
	export, err := assembler.Generate(context.Background(), "42", []domain.PhotoPage{
		{FilePath: first, Caption: "Sunset at the pier"},
		{FilePath: filepath.Join(tmp, "gone.jpg"), Caption: "Page two caption"},
		{FilePath: third},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	wantPath := filepath.Join(tmp, "photobook_42.pdf")
	if export.Artifact.Path != wantPath {
		t.Fatalf("expected %s, got %s", wantPath, export.Artifact.Path)
	}
	if export.Pages != 3 {
		t.Fatalf("expected 3 pages, got %d", export.Pages)
	}
	if len(export.MissingPages) != 1 || export.MissingPages[0] != 2 {
		t.Fatalf("expected page 2 to be reported missing, got %v", export.MissingPages)
	}

	doc := readFile(t, wantPath)
	if !bytes.HasPrefix(doc, []byte("%PDF-")) {
		t.Fatalf("expected a PDF header, got %q", doc[:min(len(doc), 8)])
	}
	if got := len(pageObject.FindAll(doc, -1)); got != 3 {
		t.Fatalf("expected 3 page objects, got %d", got)
	}
	if got := bytes.Count(doc, []byte("/Subtype /Image")); got != 2 {
		t.Fatalf("expected 2 embedded images, got %d", got)
	}
	for _, caption := range []string{"Sunset at the pier", "Page two caption"} {
		if !bytes.Contains(doc, utf16BE(caption)) {
			t.Fatalf("expected caption %q in document", caption)
		}
	}
	if export.Artifact.Bytes != len(doc) {
		t.Fatalf("expected artifact bytes %d, got %d", len(doc), export.Artifact.Bytes)
	}
}

func TestGenerateSkipsUndecodablePhoto(t *testing.T) {
	tmp := t.TempDir()
	good := filepath.Join(tmp, "good.png")
	broken := filepath.Join(tmp, "broken.jpg")
	writeFile(t, good, buildTranslucentPNG(t, 64, 64))
	writeFile(t, broken, []byte("definitely not an image"))

	export, err := newTestAssembler(t, tmp).Generate(context.Background(), "7", []domain.PhotoPage{
		{FilePath: broken, Caption: "broken"},
		{FilePath: good, Caption: "good"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if export.Pages != 2 || len(export.MissingPages) != 1 || export.MissingPages[0] != 1 {
		t.Fatalf("unexpected export %+v", export)
	}

	doc := readFile(t, export.Artifact.Path)
	if got := len(pageObject.FindAll(doc, -1)); got != 2 {
		t.Fatalf("expected 2 page objects, got %d", got)
	}
}

func TestGenerateTallPhotoStaysOnOnePage(t *testing.T) {
	tmp := t.TempDir()
	tall := filepath.Join(tmp, "tall.jpg")
	writeFile(t, tall, buildJPEG(t, 60, 600))

	export, err := newTestAssembler(t, tmp).Generate(context.Background(), "tall", []domain.PhotoPage{
		{FilePath: tall, Caption: "a very tall photo with a caption underneath"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	doc := readFile(t, export.Artifact.Path)
	if got := len(pageObject.FindAll(doc, -1)); got != 1 {
		t.Fatalf("expected 1 page object, got %d", got)
	}
}

func TestGenerateOverwritesPreviousExport(t *testing.T) {
	tmp := t.TempDir()
	photo := filepath.Join(tmp, "photo.jpg")
	writeFile(t, photo, buildJPEG(t, 80, 60))

	assembler := newTestAssembler(t, tmp)
	pages := []domain.PhotoPage{{FilePath: photo}}

	first, err := assembler.Generate(context.Background(), "9", pages)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	second, err := assembler.Generate(context.Background(), "9", append(pages, domain.PhotoPage{FilePath: photo}))
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if first.Artifact.Path != second.Artifact.Path {
		t.Fatalf("expected same export path, got %s and %s", first.Artifact.Path, second.Artifact.Path)
	}

	doc := readFile(t, second.Artifact.Path)
	if got := len(pageObject.FindAll(doc, -1)); got != 2 {
		t.Fatalf("expected the second export on disk, got %d pages", got)
	}
}

func TestGenerateRejectsEmptyInput(t *testing.T) {
	assembler := newTestAssembler(t, t.TempDir())

	if _, err := assembler.Generate(context.Background(), "1", nil); !errors.Is(err, ErrNoPages) {
		t.Fatalf("expected ErrNoPages, got %v", err)
	}
	if _, err := assembler.Generate(context.Background(), " ", []domain.PhotoPage{{FilePath: "x.jpg"}}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
}

func TestGenerateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestAssembler(t, t.TempDir()).Generate(ctx, "1", []domain.PhotoPage{{FilePath: "x.jpg"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPlace(t *testing.T) {
	wide := place(1000, 500, true)
	if wide.X != margin || wide.Y != margin || wide.W != contentWidth || !near(wide.H, 95) {
		t.Fatalf("unexpected wide placement %+v", wide)
	}
	if !near(wide.CaptionY, 110) {
		t.Fatalf("expected caption 5mm under the image, got %v", wide.CaptionY)
	}

	none := place(0, 0, true)
	if none.W != 0 || none.H != 0 || !near(none.CaptionY, 15) {
		t.Fatalf("unexpected empty placement %+v", none)
	}

	tall := place(100, 1000, true)
	maxH := pageHeight - 2*margin - captionGap - captionLine
	if !near(tall.H, maxH) || !near(tall.W, contentWidth*maxH/1900) {
		t.Fatalf("unexpected tall placement %+v", tall)
	}
	if !near(tall.X+tall.W/2, pageWidth/2) {
		t.Fatalf("expected tall photo to be centred, got %+v", tall)
	}
	if tall.CaptionY+captionLine > pageHeight-margin+1e-9 {
		t.Fatalf("caption runs past the bottom margin: %+v", tall)
	}

	uncaptioned := place(100, 1000, false)
	if !near(uncaptioned.H, pageHeight-2*margin) {
		t.Fatalf("expected full printable height without caption, got %+v", uncaptioned)
	}
}

func TestGenerateKeepsNonLatinCaptions(t *testing.T) {
	tmp := t.TempDir()
	photo := filepath.Join(tmp, "trip.jpg")
	writeFile(t, photo, buildJPEG(t, 120, 80))

	var logs bytes.Buffer
	opts := DefaultOptions()
	opts.ExportDir = tmp
	opts.Compress = false
	opts.Logger = zerolog.New(&logs)
	assembler, err := NewLocal(opts)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}

	export, err := assembler.Generate(context.Background(), "9", []domain.PhotoPage{
		{FilePath: photo, Caption: "Café Ελλάδα Москва"},
		{FilePath: photo, Caption: "Tokyo 東京 trip"},
		{FilePath: photo, Caption: "Waves 🌊"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	doc := readFile(t, export.Artifact.Path)
	if got := len(pageObject.FindAll(doc, -1)); got != 3 {
		t.Fatalf("expected 3 page objects, got %d", got)
	}
	for _, caption := range []string{"Café Ελλάδα Москва", "Tokyo 東京 trip", "Waves ?"} {
		if !bytes.Contains(doc, utf16BE(caption)) {
			t.Fatalf("expected caption %q to be written in full", caption)
		}
	}

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	var warned []string
	for _, line := range lines {
		if strings.Contains(line, "missing_glyphs") {
			warned = append(warned, line)
		}
	}
	if len(warned) != 2 || !strings.Contains(warned[0], `"page":2`) || !strings.Contains(warned[0], "東京") ||
		!strings.Contains(warned[1], `"page":3`) {
		t.Fatalf("expected glyph warnings for pages 2 and 3, got %q", warned)
	}
}

func TestUncoveredRunes(t *testing.T) {
	if got := uncoveredRunes("Café Ελλάδα Москва 10€"); len(got) != 0 {
		t.Fatalf("expected full coverage, got %q", string(got))
	}
	if got := string(uncoveredRunes("東京 and 東")); got != "東京" {
		t.Fatalf("expected 東京, got %q", got)
	}
}

func TestNewKeepsCallerPNGCompression(t *testing.T) {
	opts := DefaultOptions()
	opts.Encode = raster.EncodeOptions{PNGCompression: png.NoCompression}
	assembler, err := NewLocal(opts)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	if got := assembler.opts.Encode; got.PNGCompression != png.NoCompression || got.JPEGQuality != raster.DefaultJPEGQuality {
		t.Fatalf("expected caller PNG level with default JPEG quality, got %+v", got)
	}

	opts.Encode = raster.EncodeOptions{}
	assembler, err = NewLocal(opts)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	if got := assembler.opts.Encode; got != raster.DefaultEncodeOptions() {
		t.Fatalf("expected default encode options, got %+v", got)
	}
}

func newTestAssembler(t *testing.T, exportDir string) *Assembler {
	t.Helper()

	opts := DefaultOptions()
	opts.ExportDir = exportDir
	opts.Compress = false
	assembler, err := NewLocal(opts)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	return assembler
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func buildJPEG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 90, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func buildTranslucentPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 40, B: 40, A: uint8(x * 255 / w)})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

// utf16BE is how text set in an embedded UTF-8 font appears in a content
// stream.
func utf16BE(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, 2*len(units))
	for _, u := range units {
		out = append(out, byte(u>>8), byte(u))
	}
	return out
}
