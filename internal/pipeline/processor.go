package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelbook/internal/domain"
	"github.com/dunamismax/pixelbook/internal/filter"
	"github.com/dunamismax/pixelbook/internal/frame"
	"github.com/dunamismax/pixelbook/internal/raster"
	"github.com/dunamismax/pixelbook/internal/resize"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	SourceTypeLocalFile   = domain.SourceTypeLocalFile
	SourceTypeObjectStore = domain.SourceTypeObjectStore
)

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrInvalidOperation      = errors.New("invalid pipeline operation")
)

type Request struct {
	JobID      string
	SourceType string
	PhotoPath  string
	Steps      []domain.Step
}

type Result struct {
	SourceBytes int
	Artifacts   []domain.Artifact
}

// Fetcher loads the raw bytes stored under key.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Emitter stores data under key and returns the location it was written to.
type Emitter interface {
	Emit(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

type Options struct {
	Encode    raster.EncodeOptions
	FrameMode frame.Mode
	Resampler resize.Resampler
	Logger    zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		Encode:    raster.DefaultEncodeOptions(),
		FrameMode: frame.ModeOver,
		Resampler: resize.Default(),
		Logger:    zerolog.Nop(),
	}
}

// Processor runs the photo operations. It keeps no per-call state, so one
// Processor may serve concurrent callers.
type Processor struct {
	fetcher Fetcher
	emitter Emitter
	opts    Options
	tracer  trace.Tracer
}

func NewProcessor(fetcher Fetcher, emitter Emitter, opts Options) (*Processor, error) {
	if fetcher == nil || emitter == nil {
		return nil, errors.New("fetcher and emitter are required")
	}
	if opts.Resampler == nil {
		opts.Resampler = resize.Default()
	}
	if opts.FrameMode == "" {
		opts.FrameMode = frame.ModeOver
	}

	return &Processor{
		fetcher: fetcher,
		emitter: emitter,
		opts:    opts,
		tracer:  otel.Tracer("pixelbook/pipeline"),
	}, nil
}

func NewLocalProcessor(opts Options) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, LocalFileEmitter{}, opts)
}

// ApplyFilter writes "<stem>_<kind><ext>" next to the photo. An unknown kind
// writes nothing and returns the photo itself with Derived unset.
func (p *Processor) ApplyFilter(ctx context.Context, photoPath string, req filter.Request) (domain.Artifact, error) {
	intensity := req.Intensity
	return p.single(ctx, photoPath, domain.Step{
		Operation: domain.OperationFilter,
		Filter:    string(req.Kind),
		Intensity: &intensity,
	})
}

// ApplyFrame writes "<stem>_framed<ext>" next to the photo.
func (p *Processor) ApplyFrame(ctx context.Context, photoPath, framePath string) (domain.Artifact, error) {
	return p.single(ctx, photoPath, domain.Step{
		Operation: domain.OperationFrame,
		FramePath: framePath,
	})
}

// Resize writes "<stem>_<w>x<h><ext>" next to the photo.
func (p *Processor) Resize(ctx context.Context, photoPath string, width, height int) (domain.Artifact, error) {
	return p.single(ctx, photoPath, domain.Step{
		Operation: domain.OperationResize,
		Width:     width,
		Height:    height,
	})
}

func (p *Processor) single(ctx context.Context, photoPath string, step domain.Step) (domain.Artifact, error) {
	src, _, err := p.load(ctx, photoPath)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("fetch stage: %w", err)
	}
	defer src.Release()

	return p.runStep(ctx, photoPath, src, step)
}

// Process runs every step against the original photo, not against the
// previous step's output, and collects one artifact per step.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Steps) == 0 {
		return Result{}, errors.New("steps must contain at least one operation")
	}

	src, sourceBytes, err := p.load(ctx, req.PhotoPath)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}
	defer src.Release()

	out := Result{
		SourceBytes: sourceBytes,
		Artifacts:   make([]domain.Artifact, 0, len(req.Steps)),
	}
	for i, step := range req.Steps {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		artifact, err := p.runStep(ctx, req.PhotoPath, src, step)
		if err != nil {
			return Result{}, fmt.Errorf("transform stage step=%d operation=%s: %w", i, step.Operation, err)
		}
		out.Artifacts = append(out.Artifacts, artifact)
	}

	return out, nil
}

func (p *Processor) load(ctx context.Context, key string) (*raster.Buffer, int, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	default:
	}

	data, err := p.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	buf, err := raster.DecodeBytes(data)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", key, err)
	}
	return buf, len(data), nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", raster.ErrMissingSource, key)
		}
		return nil, fmt.Errorf("read input file %s: %w", key, err)
	}
	return data, nil
}

// LocalFileEmitter writes artifacts to the filesystem. Relative keys are
// resolved against OutputDir when it is set.
type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(ctx context.Context, key string, data []byte, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if strings.TrimSpace(key) == "" {
		return "", errors.New("artifact key is required")
	}

	fullPath := key
	if e.OutputDir != "" && !filepath.IsAbs(key) {
		fullPath = filepath.Join(e.OutputDir, key)
	}
	if err := raster.WriteFile(fullPath, data); err != nil {
		return "", fmt.Errorf("write output file: %w", err)
	}
	return fullPath, nil
}
