package photobook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dunamismax/pixelbook/internal/domain"
	"github.com/dunamismax/pixelbook/internal/pipeline"
	"github.com/dunamismax/pixelbook/internal/raster"
	"github.com/go-pdf/fpdf"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	DefaultExportDir = "uploads/photobooks"
	DefaultAuthor    = "PixelMemories"
	DefaultCreator   = "pixelbook"
	DefaultTitle     = "Photobook"

	contentType = "application/pdf"
)

var (
	ErrNoPages        = errors.New("photobook has no photos")
	ErrMissingID      = errors.New("photobook id is required")
	ErrDocumentRender = errors.New("render photobook document")
)

type Options struct {
	ExportDir string
	Author    string
	Creator   string
	Title     string
	Compress  bool
	Encode    raster.EncodeOptions
	Logger    zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		ExportDir: DefaultExportDir,
		Author:    DefaultAuthor,
		Creator:   DefaultCreator,
		Title:     DefaultTitle,
		Compress:  true,
		Encode:    raster.DefaultEncodeOptions(),
		Logger:    zerolog.Nop(),
	}
}

// Assembler lays out photobooks as PDF documents, one photo per page. Photos
// are read through the fetcher and the finished document is handed to the
// emitter, so the same code serves local files and object storage.
type Assembler struct {
	fetcher pipeline.Fetcher
	emitter pipeline.Emitter
	opts    Options
	tracer  trace.Tracer
}

func New(fetcher pipeline.Fetcher, emitter pipeline.Emitter, opts Options) (*Assembler, error) {
	if fetcher == nil || emitter == nil {
		return nil, errors.New("fetcher and emitter are required")
	}
	opts.Encode = withEncodeDefaults(opts.Encode)

	return &Assembler{
		fetcher: fetcher,
		emitter: emitter,
		opts:    opts,
		tracer:  otel.Tracer("pixelbook/photobook"),
	}, nil
}

// withEncodeDefaults fills in the JPEG quality when it is unset. A wholly zero
// value takes every default; otherwise the caller's PNG level is kept.
func withEncodeDefaults(o raster.EncodeOptions) raster.EncodeOptions {
	defaults := raster.DefaultEncodeOptions()
	if o == (raster.EncodeOptions{}) {
		return defaults
	}
	if o.JPEGQuality == 0 {
		o.JPEGQuality = defaults.JPEGQuality
	}
	return o
}

func NewLocal(opts Options) (*Assembler, error) {
	return New(pipeline.LocalFileFetcher{}, pipeline.LocalFileEmitter{}, opts)
}

// Generate writes photobook_<id>.pdf with one page per entry of pages, in
// order. A photo that cannot be read or decoded still gets its page and
// caption; its 1-based page number is listed in MissingPages.
func (a *Assembler) Generate(ctx context.Context, photobookID string, pages []domain.PhotoPage) (domain.Export, error) {
	photobookID = strings.TrimSpace(photobookID)
	if photobookID == "" {
		return domain.Export{}, ErrMissingID
	}
	if len(pages) == 0 {
		return domain.Export{}, ErrNoPages
	}

	ctx, span := a.tracer.Start(ctx, "photobook.generate")
	span.SetAttributes(
		attribute.String("photobook.id", photobookID),
		attribute.Int("photobook.pages", len(pages)),
	)
	defer span.End()

	export, err := a.generate(ctx, photobookID, pages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return domain.Export{}, err
	}
	span.SetAttributes(attribute.Int("photobook.missing_pages", len(export.MissingPages)))
	return export, nil
}

func (a *Assembler) generate(ctx context.Context, photobookID string, pages []domain.PhotoPage) (domain.Export, error) {
	pdf := a.newDocument()

	var missing []int
	for i, page := range pages {
		select {
		case <-ctx.Done():
			return domain.Export{}, ctx.Err()
		default:
		}

		pageNo := i + 1
		pdf.AddPage()

		hasCaption := strings.TrimSpace(page.Caption) != ""
		at, err := a.drawPhoto(ctx, pdf, pageNo, page.FilePath, hasCaption)
		if err != nil {
			a.opts.Logger.Warn().
				Err(err).
				Str("photobook_id", photobookID).
				Int("page", pageNo).
				Str("photo", page.FilePath).
				Msg("photo skipped, page kept")
			missing = append(missing, pageNo)
		}

		if hasCaption {
			if lost := uncoveredRunes(page.Caption); len(lost) > 0 {
				a.opts.Logger.Warn().
					Str("photobook_id", photobookID).
					Int("page", pageNo).
					Str("missing_glyphs", string(lost)).
					Msg("caption has characters the caption font cannot draw")
			}
			pdf.SetY(at.CaptionY)
			pdf.SetFont(captionFamily, "", captionFont)
			pdf.MultiCell(contentWidth, captionLine, drawable(page.Caption), "", "C", false)
		}
		if !pdf.Ok() {
			return domain.Export{}, fmt.Errorf("%w: page %d: %v", ErrDocumentRender, pageNo, pdf.Error())
		}
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return domain.Export{}, fmt.Errorf("%w: %v", ErrDocumentRender, err)
	}

	key := pipeline.ExportKey(a.opts.ExportDir, photobookID)
	written, err := a.emitter.Emit(ctx, key, out.Bytes(), contentType)
	if err != nil {
		return domain.Export{}, fmt.Errorf("emit stage: %w", err)
	}

	a.opts.Logger.Info().
		Str("photobook_id", photobookID).
		Str("artifact", written).
		Int("pages", len(pages)).
		Ints("missing_pages", missing).
		Msg("photobook exported")

	return domain.Export{
		Artifact: domain.Artifact{
			Path:    written,
			Format:  "pdf",
			Bytes:   out.Len(),
			Derived: true,
		},
		Pages:        len(pages),
		MissingPages: missing,
	}, nil
}

func (a *Assembler) newDocument() *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(margin, margin, margin)
	// Pages are laid out explicitly; an automatic break would split one
	// photo's page into two.
	pdf.SetAutoPageBreak(false, margin)
	pdf.SetCompression(a.opts.Compress)
	pdf.SetCreator(a.opts.Creator, true)
	pdf.SetAuthor(a.opts.Author, true)
	pdf.SetTitle(a.opts.Title, true)
	pdf.AddUTF8FontFromBytes(captionFamily, "", goregular.TTF)
	return pdf
}

// drawPhoto places the photo on the current page and returns where it went.
// On failure nothing is drawn and the returned placement is the empty one.
func (a *Assembler) drawPhoto(ctx context.Context, pdf *fpdf.Fpdf, pageNo int, path string, hasCaption bool) (placement, error) {
	empty := place(0, 0, hasCaption)
	if strings.TrimSpace(path) == "" {
		return empty, raster.ErrMissingSource
	}

	data, err := a.fetcher.Fetch(ctx, path)
	if err != nil {
		return empty, err
	}
	buf, err := raster.DecodeBytes(data)
	if err != nil {
		return empty, err
	}
	defer buf.Release()

	imageType, encoded, err := a.embeddable(buf)
	if err != nil {
		return empty, err
	}

	name := fmt.Sprintf("page-%d", pageNo)
	opts := fpdf.ImageOptions{ImageType: imageType}
	pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(encoded))
	if !pdf.Ok() {
		err := pdf.Error()
		pdf.ClearError()
		return empty, fmt.Errorf("embed image: %w", err)
	}

	at := place(buf.Width(), buf.Height(), hasCaption)
	pdf.ImageOptions(name, at.X, at.Y, at.W, at.H, false, opts, 0, "")
	if !pdf.Ok() {
		err := pdf.Error()
		pdf.ClearError()
		return empty, fmt.Errorf("place image: %w", err)
	}
	return at, nil
}

// embeddable re-encodes the decoded photo so the document always receives a
// stream it can embed with orientation already applied: JPEG for opaque
// photos, PNG when transparency must be kept.
func (a *Assembler) embeddable(buf *raster.Buffer) (string, []byte, error) {
	if buf.Opaque() {
		data, err := raster.EncodeBytes(buf, raster.JPEG, a.opts.Encode)
		return "JPG", data, err
	}
	data, err := raster.EncodeBytes(buf, raster.PNG, a.opts.Encode)
	return "PNG", data, err
}
