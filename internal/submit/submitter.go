package submit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/pixelbook/internal/domain"
	"github.com/dunamismax/pixelbook/internal/id"
	"github.com/dunamismax/pixelbook/internal/queue"
	"github.com/dunamismax/pixelbook/internal/store"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrMissingSource  = errors.New("source object is missing")
)

type queueEnqueuer interface {
	EnqueueTransformPhoto(ctx context.Context, payload queue.TransformPhotoPayload) (*asynq.TaskInfo, error)
	EnqueueExportPhotobook(ctx context.Context, payload queue.ExportPhotobookPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

// Receipt describes a queued job.
type Receipt struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Queue  string `json:"queue"`
	TaskID string `json:"task_id"`
}

// Submitter records jobs and hands them to the worker queue.
type Submitter struct {
	logger   zerolog.Logger
	queue    queueEnqueuer
	jobStore store.JobStore
	storage  objectStorage
	now      func() time.Time
}

func New(logger zerolog.Logger, queueClient queueEnqueuer, jobStore store.JobStore, storage objectStorage) *Submitter {
	if storage == nil {
		storage = unavailableObjectStorage{}
	}
	if jobStore == nil {
		jobStore = store.NewMemoryJobStore()
	}
	return &Submitter{
		logger:   logger,
		queue:    queueClient,
		jobStore: jobStore,
		storage:  storage,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

// SubmitTransform queues the steps for one photo. The photo must exist at
// submission time.
func (s *Submitter) SubmitTransform(ctx context.Context, req domain.TransformRequest) (Receipt, error) {
	req.SourceType = strings.ToLower(strings.TrimSpace(req.SourceType))
	req.PhotoPath = strings.TrimSpace(req.PhotoPath)
	if err := req.Validate(); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := s.verifySourceExists(ctx, req.SourceType, req.PhotoPath); err != nil {
		return Receipt{}, err
	}

	now := s.now()
	job := domain.Job{
		ID:         id.New(),
		Kind:       domain.JobKindTransform,
		Status:     domain.JobStatusCreated,
		SourceType: req.SourceType,
		WebhookURL: req.WebhookURL,
		PhotoPath:  req.PhotoPath,
		Steps:      req.Steps,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobStore.Create(ctx, job); err != nil {
		return Receipt{}, fmt.Errorf("create job: %w", err)
	}

	info, err := s.queue.EnqueueTransformPhoto(ctx, queue.TransformPhotoPayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		PhotoPath:   job.PhotoPath,
		Steps:       job.Steps,
		RequestedAt: now,
	})
	return s.queued(ctx, job, info, err)
}

// SubmitExport queues a photobook export. Photos are not checked here: a
// missing photo yields a page without an image rather than a failed export.
func (s *Submitter) SubmitExport(ctx context.Context, req domain.ExportRequest) (Receipt, error) {
	req.SourceType = strings.ToLower(strings.TrimSpace(req.SourceType))
	req.PhotobookID = strings.TrimSpace(req.PhotobookID)
	if err := req.Validate(); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := s.now()
	job := domain.Job{
		ID:          id.New(),
		Kind:        domain.JobKindExport,
		Status:      domain.JobStatusCreated,
		SourceType:  req.SourceType,
		WebhookURL:  req.WebhookURL,
		PhotobookID: req.PhotobookID,
		Photos:      req.Photos,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobStore.Create(ctx, job); err != nil {
		return Receipt{}, fmt.Errorf("create job: %w", err)
	}

	info, err := s.queue.EnqueueExportPhotobook(ctx, queue.ExportPhotobookPayload{
		JobID:       job.ID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		PhotobookID: job.PhotobookID,
		Photos:      job.Photos,
		RequestedAt: now,
	})
	return s.queued(ctx, job, info, err)
}

func (s *Submitter) queued(ctx context.Context, job domain.Job, info *asynq.TaskInfo, enqueueErr error) (Receipt, error) {
	if enqueueErr != nil {
		if _, err := s.jobStore.SaveResult(ctx, job.ID, domain.JobStatusFailed, nil, enqueueErr.Error()); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("mark job failed")
		}
		return Receipt{}, fmt.Errorf("enqueue job %s: %w", job.ID, enqueueErr)
	}

	if _, err := s.jobStore.UpdateStatus(ctx, job.ID, domain.JobStatusQueued); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("update status failed")
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("kind", job.Kind).
		Str("queue", info.Queue).
		Str("task_id", info.ID).
		Msg("job queued")

	return Receipt{
		JobID:  job.ID,
		Status: domain.JobStatusQueued,
		Queue:  info.Queue,
		TaskID: info.ID,
	}, nil
}

func (s *Submitter) verifySourceExists(ctx context.Context, sourceType, key string) error {
	switch sourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(key); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrMissingSource, key)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, key)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrMissingSource, key)
		}
		return nil
	}
}
