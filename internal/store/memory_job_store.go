package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dunamismax/pixelbook/internal/domain"
)

// MemoryJobStore keeps jobs and usage logs in process. It backs the CLI and
// single-node workers that run without Postgres.
type MemoryJobStore struct {
	mu    sync.RWMutex
	jobs  map[string]domain.Job
	usage []domain.UsageLog
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return cloneJob(job), true, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryJobStore) SaveResult(_ context.Context, id, status string, artifacts []domain.Artifact, errMsg string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	job.Status = status
	job.Artifacts = slices.Clone(artifacts)
	job.Error = errMsg
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return cloneJob(job), nil
}

func (s *MemoryJobStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = append(s.usage, usage)
	return nil
}

// UsageLogs returns the recorded usage in insertion order.
func (s *MemoryJobStore) UsageLogs() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.usage)
}

func cloneJob(job domain.Job) domain.Job {
	job.Steps = slices.Clone(job.Steps)
	job.Photos = slices.Clone(job.Photos)
	job.Artifacts = slices.Clone(job.Artifacts)
	return job
}
