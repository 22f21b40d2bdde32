package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelbook/internal/config"
	"github.com/dunamismax/pixelbook/internal/domain"
	"github.com/dunamismax/pixelbook/internal/frame"
	"github.com/dunamismax/pixelbook/internal/lock"
	"github.com/dunamismax/pixelbook/internal/photobook"
	"github.com/dunamismax/pixelbook/internal/pipeline"
	"github.com/dunamismax/pixelbook/internal/queue"
	"github.com/dunamismax/pixelbook/internal/raster"
	"github.com/dunamismax/pixelbook/internal/resize"
	"github.com/dunamismax/pixelbook/internal/storage"
	"github.com/dunamismax/pixelbook/internal/store"
	"github.com/dunamismax/pixelbook/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger     zerolog.Logger
	server     *asynq.Server
	sem        chan struct{}
	processors map[string]*pipeline.Processor
	assemblers map[string]*photobook.Assembler
	exportDir  string
	presigner  presigner
	presignTTL time.Duration
	locker     exportLocker

	webhookClient webhookSender
	jobStore      store.JobStore
	usageStore    store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type exportLocker interface {
	Acquire(ctx context.Context, subject string) (*lock.Lease, error)
}

type presigner interface {
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// Deps are the collaborators a Server may use. Storage and Locker are
// optional: without Storage only local_file jobs are accepted, and without
// Locker exports run unguarded.
type Deps struct {
	Storage    *storage.Client
	Locker     *lock.RedisLocker
	Webhook    webhookSender
	JobStore   store.JobStore
	UsageStore store.UsageStore
}

func NewServer(logger zerolog.Logger, cfg config.Config, deps Deps) (*Server, error) {
	frameMode, err := frame.ParseMode(cfg.Artifacts.FrameMode)
	if err != nil {
		return nil, err
	}

	pipelineOpts := pipeline.Options{
		Encode:    cfg.Artifacts.EncodeOptions(),
		FrameMode: frameMode,
		Resampler: resize.Default(),
		Logger:    logger,
	}
	bookOpts := photobook.Options{
		ExportDir: cfg.PDF.ExportDir,
		Author:    cfg.PDF.Author,
		Creator:   cfg.PDF.Creator,
		Title:     cfg.PDF.Title,
		Compress:  cfg.PDF.Compress,
		Encode:    cfg.Artifacts.EncodeOptions(),
		Logger:    logger,
	}

	localFetcher := pipeline.LocalFileFetcher{}
	localEmitter := pipeline.LocalFileEmitter{OutputDir: cfg.Worker.LocalOutputDir}

	localProcessor, err := pipeline.NewProcessor(localFetcher, localEmitter, pipelineOpts)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline processor: %w", err)
	}
	localAssembler, err := photobook.New(localFetcher, localEmitter, bookOpts)
	if err != nil {
		return nil, fmt.Errorf("initialize photobook assembler: %w", err)
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			cfg.Queue.RedisClientOpt(),
			asynq.Config{
				Concurrency: cfg.Worker.Concurrency,
				Queues: map[string]int{
					cfg.Queue.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Error().
						Err(err).
						Str("task_type", task.Type()).
						Int("retry", retried).
						Int("max_retry", maxRetry).
						Msg("task failed")
				}),
			},
		),
		sem:        make(chan struct{}, max(1, cfg.Worker.MaxActiveJobs)),
		processors: map[string]*pipeline.Processor{domain.SourceTypeLocalFile: localProcessor},
		assemblers: map[string]*photobook.Assembler{domain.SourceTypeLocalFile: localAssembler},
		exportDir:  cfg.PDF.ExportDir,
		presignTTL: cfg.Storage.PresignTTL,

		webhookClient: deps.Webhook,
		jobStore:      deps.JobStore,
		usageStore:    deps.UsageStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("pixelbook/worker"),
	}

	if deps.Storage != nil {
		fetcher := pipeline.ObjectStoreFetcher{Storage: deps.Storage}
		emitter := pipeline.ObjectStoreEmitter{Storage: deps.Storage, OutputPrefix: cfg.Storage.OutputPrefix}

		objectProcessor, err := pipeline.NewObjectStoreProcessor(fetcher, emitter, pipelineOpts)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
		objectAssembler, err := photobook.New(fetcher, emitter, bookOpts)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store assembler: %w", err)
		}
		s.processors[domain.SourceTypeObjectStore] = objectProcessor
		s.assemblers[domain.SourceTypeObjectStore] = objectAssembler
		s.presigner = deps.Storage
	}
	if deps.Locker != nil {
		s.locker = deps.Locker
	}

	if s.usageStore == nil {
		if jobAndUsageStore, ok := s.jobStore.(store.UsageStore); ok {
			s.usageStore = jobAndUsageStore
		}
	}

	return s, nil
}

func (s *Server) Run() error {
	return s.server.Run(s.mux())
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeTransformPhoto, s.handleTransformPhoto)
	mux.HandleFunc(queue.TypeExportPhotobook, s.handleExportPhotobook)
	return mux
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleTransformPhoto(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseTransformPhotoPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.transform_photo", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.Int("job.steps", len(payload.Steps)),
	)
	defer span.End()
	defer s.observe(domain.JobKindTransform, startedAt, &outcome)

	release := s.acquireSlot()
	defer release()

	log := s.logger.With().Str("job_id", payload.JobID).Str("kind", domain.JobKindTransform).Logger()
	log.Info().
		Str("source_type", payload.SourceType).
		Str("photo", payload.PhotoPath).
		Int("steps", len(payload.Steps)).
		Msg("working")

	fail := func(err error, retryable bool) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		s.saveResult(ctx, payload.JobID, domain.JobStatusFailed, nil, err.Error())
		_ = s.dispatchWebhook(ctx, payload.JobID, payload.WebhookURL, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"kind":         domain.JobKindTransform,
			"status":       domain.JobStatusFailed,
			"photo_path":   payload.PhotoPath,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if !retryable {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	request := domain.TransformRequest{
		SourceType: payload.SourceType,
		PhotoPath:  payload.PhotoPath,
		Steps:      payload.Steps,
	}
	if err := request.Validate(); err != nil {
		return fail(fmt.Errorf("invalid transform request: %w", err), false)
	}
	processor, ok := s.processors[normalizeSourceType(payload.SourceType)]
	if !ok {
		return fail(fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType), false)
	}

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := processor.Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		PhotoPath:  payload.PhotoPath,
		Steps:      payload.Steps,
	})
	if err != nil {
		return fail(fmt.Errorf("run pipeline: %w", err), retryable(err))
	}

	for i, artifact := range result.Artifacts {
		s.metrics.artifactsTotal.WithLabelValues(payload.Steps[i].Operation, strconv.FormatBool(artifact.Derived)).Inc()
	}
	log.Info().Int("artifacts", len(result.Artifacts)).Msg("processed")
	s.saveResult(ctx, payload.JobID, domain.JobStatusSucceeded, result.Artifacts, "")
	s.recordUsage(ctx, payload.JobID, domain.JobKindTransform, result.Artifacts, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload.JobID, payload.WebhookURL, webhook.EventPhotoTransformed, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"photo_path":   payload.PhotoPath,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"artifacts":    result.Artifacts,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) handleExportPhotobook(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseExportPhotobookPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.export_photobook", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("photobook.id", payload.PhotobookID),
		attribute.Int("photobook.pages", len(payload.Photos)),
	)
	defer span.End()
	defer s.observe(domain.JobKindExport, startedAt, &outcome)

	release := s.acquireSlot()
	defer release()

	log := s.logger.With().Str("job_id", payload.JobID).Str("kind", domain.JobKindExport).Logger()
	log.Info().
		Str("photobook_id", payload.PhotobookID).
		Int("pages", len(payload.Photos)).
		Msg("working")

	fail := func(err error, retryable bool) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		s.saveResult(ctx, payload.JobID, domain.JobStatusFailed, nil, err.Error())
		_ = s.dispatchWebhook(ctx, payload.JobID, payload.WebhookURL, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"kind":         domain.JobKindExport,
			"status":       domain.JobStatusFailed,
			"photobook_id": payload.PhotobookID,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if !retryable {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	request := domain.ExportRequest{
		SourceType:  payload.SourceType,
		PhotobookID: payload.PhotobookID,
		Photos:      payload.Photos,
	}
	if err := request.Validate(); err != nil {
		return fail(fmt.Errorf("invalid export request: %w", err), false)
	}
	sourceType := normalizeSourceType(payload.SourceType)
	assembler, ok := s.assemblers[sourceType]
	if !ok {
		return fail(fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType), false)
	}

	// The export name is fixed per photobook; hold its lock while writing.
	exportKey := pipeline.ExportKey(s.exportDir, payload.PhotobookID)
	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, exportKey)
		if err != nil {
			if errors.Is(err, lock.ErrHeld) {
				s.metrics.lockConflictsTotal.Inc()
				log.Warn().Str("export", exportKey).Msg("export in progress elsewhere, retrying later")
				return fmt.Errorf("export %s: %w", payload.PhotobookID, err)
			}
			return fmt.Errorf("acquire export lock: %w", err)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("export lock release failed")
			}
		}()
	}

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	export, err := assembler.Generate(ctx, payload.PhotobookID, payload.Photos)
	if err != nil {
		return fail(fmt.Errorf("generate photobook: %w", err), retryable(err))
	}

	s.metrics.pdfPagesTotal.Add(float64(export.Pages))
	s.metrics.missingPagesTotal.Add(float64(len(export.MissingPages)))
	log.Info().
		Str("artifact", export.Artifact.Path).
		Ints("missing_pages", export.MissingPages).
		Msg("exported")

	s.saveResult(ctx, payload.JobID, domain.JobStatusSucceeded, []domain.Artifact{export.Artifact}, "")
	s.recordUsage(ctx, payload.JobID, domain.JobKindExport, []domain.Artifact{export.Artifact}, time.Since(startedAt))

	body := map[string]any{
		"job_id":        payload.JobID,
		"status":        domain.JobStatusSucceeded,
		"photobook_id":  payload.PhotobookID,
		"path":          export.Artifact.Path,
		"pages":         export.Pages,
		"missing_pages": export.MissingPages,
		"requested_at":  payload.RequestedAt,
		"completed_at":  time.Now().UTC(),
	}
	if sourceType == domain.SourceTypeObjectStore && s.presigner != nil {
		link, err := s.presigner.PresignedGetURL(ctx, export.Artifact.Path, s.presignTTL)
		if err != nil {
			log.Warn().Err(err).Msg("presign export failed")
		} else {
			body["download_url"] = link
		}
	}

	if err := s.dispatchWebhook(ctx, payload.JobID, payload.WebhookURL, webhook.EventPhotobookExported, body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "exported")
	return nil
}

func normalizeSourceType(sourceType string) string {
	return strings.ToLower(strings.TrimSpace(sourceType))
}

// retryable reports whether running the job again could succeed. Bad input
// fails the same way every time.
func retryable(err error) bool {
	switch {
	case errors.Is(err, raster.ErrMissingSource),
		errors.Is(err, raster.ErrUnsupportedFormat),
		errors.Is(err, raster.ErrDecode),
		errors.Is(err, raster.ErrDimensionMismatch),
		errors.Is(err, resize.ErrInvalidSize),
		errors.Is(err, pipeline.ErrInvalidOperation),
		errors.Is(err, photobook.ErrNoPages),
		errors.Is(err, photobook.ErrMissingID):
		return false
	default:
		return true
	}
}

func (s *Server) acquireSlot() func() {
	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	return func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}
}

func (s *Server) observe(kind string, startedAt time.Time, outcome *string) {
	s.metrics.jobDuration.WithLabelValues(kind, *outcome).Observe(time.Since(startedAt).Seconds())
	s.metrics.jobsTotal.WithLabelValues(kind, *outcome).Inc()
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("status", status).Msg("job status update failed")
	}
}

func (s *Server) saveResult(ctx context.Context, jobID, status string, artifacts []domain.Artifact, errMsg string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.SaveResult(ctx, jobID, status, artifacts, errMsg); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("status", status).Msg("job result update failed")
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, jobID, endpoint, event string, body map[string]any) error {
	if endpoint == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, endpoint, event, body); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Str("event", event).Msg("webhook delivery failed")
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, jobID, kind string, artifacts []domain.Artifact, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	var (
		pixelsProcessed int64
		artifactBytes   int64
	)
	for _, artifact := range artifacts {
		if !artifact.Derived {
			continue
		}
		pixelsProcessed += int64(artifact.Width * artifact.Height)
		artifactBytes += int64(artifact.Bytes)
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		JobID:           jobID,
		Kind:            kind,
		PixelsProcessed: pixelsProcessed,
		ArtifactBytes:   artifactBytes,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("usage log write failed")
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.artifactBytesTotal.Add(float64(artifactBytes))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}
