package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dunamismax/pixelbook/internal/domain"
	"github.com/dunamismax/pixelbook/internal/filter"
	"github.com/dunamismax/pixelbook/internal/frame"
	"github.com/dunamismax/pixelbook/internal/raster"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const frameTag = "framed"

func (p *Processor) runStep(ctx context.Context, source string, src *raster.Buffer, step domain.Step) (domain.Artifact, error) {
	op := strings.ToLower(strings.TrimSpace(step.Operation))
	ctx, span := p.tracer.Start(ctx, "pipeline."+op)
	span.SetAttributes(
		attribute.String("photo.source", source),
		attribute.Int("photo.width", src.Width()),
		attribute.Int("photo.height", src.Height()),
	)
	defer span.End()

	artifact, err := p.transform(ctx, source, src, op, step)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "step failed")
		return domain.Artifact{}, err
	}
	span.SetAttributes(
		attribute.String("artifact.path", artifact.Path),
		attribute.Bool("artifact.derived", artifact.Derived),
	)
	return artifact, nil
}

func (p *Processor) transform(ctx context.Context, source string, src *raster.Buffer, op string, step domain.Step) (domain.Artifact, error) {
	switch op {
	case domain.OperationFilter:
		req := filter.NewRequest(step.Filter, step.FilterIntensity())
		out, applied := filter.Apply(src, req)
		if !applied {
			p.opts.Logger.Debug().Str("photo", source).Str("filter", step.Filter).Msg("unknown filter, passing photo through")
			return passthrough(source, src), nil
		}
		defer out.Release()
		return p.emit(ctx, source, string(req.Kind), out)

	case domain.OperationFrame:
		overlay, _, err := p.load(ctx, step.FramePath)
		if err != nil {
			return domain.Artifact{}, fmt.Errorf("load frame: %w", err)
		}
		defer overlay.Release()

		out, err := frame.Apply(src, overlay, p.opts.FrameMode)
		if err != nil {
			return domain.Artifact{}, err
		}
		defer out.Release()
		return p.emit(ctx, source, frameTag, out)

	case domain.OperationResize:
		out, err := p.opts.Resampler.Resize(src, step.Width, step.Height)
		if err != nil {
			return domain.Artifact{}, err
		}
		defer out.Release()
		return p.emit(ctx, source, fmt.Sprintf("%dx%d", step.Width, step.Height), out)

	default:
		return domain.Artifact{}, fmt.Errorf("%w: %q", ErrInvalidOperation, step.Operation)
	}
}

// emit encodes out in the source's format and stores it under the derived name.
func (p *Processor) emit(ctx context.Context, source, tag string, out *raster.Buffer) (domain.Artifact, error) {
	format := out.Format()
	data, err := raster.EncodeBytes(out, format, p.opts.Encode)
	if err != nil {
		return domain.Artifact{}, err
	}

	key := ArtifactKey(source, tag, format)
	written, err := p.emitter.Emit(ctx, key, data, format.ContentType())
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("emit stage: %w", err)
	}

	p.opts.Logger.Debug().
		Str("photo", source).
		Str("artifact", written).
		Int("bytes", len(data)).
		Msg("artifact written")

	return domain.Artifact{
		Path:    written,
		Format:  format.String(),
		Width:   out.Width(),
		Height:  out.Height(),
		Bytes:   len(data),
		Derived: true,
	}, nil
}

func passthrough(source string, src *raster.Buffer) domain.Artifact {
	return domain.Artifact{
		Path:    source,
		Format:  src.Format().String(),
		Width:   src.Width(),
		Height:  src.Height(),
		Derived: false,
	}
}
