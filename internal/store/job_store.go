package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelbook/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// SaveResult records the final status together with the produced
	// artifacts and, for failed jobs, the error message.
	SaveResult(ctx context.Context, id, status string, artifacts []domain.Artifact, errMsg string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
