package submit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/pixelbook/internal/domain"
	"github.com/dunamismax/pixelbook/internal/queue"
	"github.com/dunamismax/pixelbook/internal/store"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

func TestSubmitTransformQueuesJob(t *testing.T) {
	photo := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(photo, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatalf("write photo: %v", err)
	}

	jobs := store.NewMemoryJobStore()
	q := &fakeQueue{}
	s := New(zerolog.Nop(), q, jobs, nil)

	receipt, err := s.SubmitTransform(context.Background(), domain.TransformRequest{
		SourceType: " LOCAL_FILE ",
		PhotoPath:  photo,
		Steps:      []domain.Step{{Operation: domain.OperationFilter, Filter: "sepia"}},
	})
	if err != nil {
		t.Fatalf("submit transform: %v", err)
	}
	if receipt.Status != domain.JobStatusQueued || receipt.Queue != "default" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if q.transform.JobID != receipt.JobID || q.transform.SourceType != domain.SourceTypeLocalFile {
		t.Fatalf("unexpected payload %+v", q.transform)
	}

	job, ok, _ := jobs.Get(context.Background(), receipt.JobID)
	if !ok || job.Status != domain.JobStatusQueued || job.Kind != domain.JobKindTransform {
		t.Fatalf("unexpected stored job %+v", job)
	}
}

func TestSubmitTransformRejectsMissingPhoto(t *testing.T) {
	q := &fakeQueue{}
	s := New(zerolog.Nop(), q, nil, nil)

	_, err := s.SubmitTransform(context.Background(), domain.TransformRequest{
		SourceType: domain.SourceTypeLocalFile,
		PhotoPath:  filepath.Join(t.TempDir(), "gone.jpg"),
		Steps:      []domain.Step{{Operation: domain.OperationResize, Width: 10, Height: 10}},
	})
	if !errors.Is(err, ErrMissingSource) {
		t.Fatalf("expected ErrMissingSource, got %v", err)
	}
	if q.calls != 0 {
		t.Fatal("expected nothing to be enqueued")
	}
}

func TestSubmitTransformChecksObjectStore(t *testing.T) {
	s := New(zerolog.Nop(), &fakeQueue{}, nil, fakeStorage{exists: false})

	_, err := s.SubmitTransform(context.Background(), domain.TransformRequest{
		SourceType: domain.SourceTypeObjectStore,
		PhotoPath:  "uploads/a.jpg",
		Steps:      []domain.Step{{Operation: domain.OperationResize, Width: 10, Height: 10}},
	})
	if !errors.Is(err, ErrMissingSource) {
		t.Fatalf("expected ErrMissingSource, got %v", err)
	}
}

func TestSubmitExportQueuesWithoutCheckingPhotos(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	q := &fakeQueue{}
	s := New(zerolog.Nop(), q, jobs, nil)

	receipt, err := s.SubmitExport(context.Background(), domain.ExportRequest{
		SourceType:  domain.SourceTypeLocalFile,
		PhotobookID: "42",
		Photos:      []domain.PhotoPage{{FilePath: "not/there.jpg", Caption: "still a page"}},
	})
	if err != nil {
		t.Fatalf("submit export: %v", err)
	}
	if q.export.PhotobookID != "42" || len(q.export.Photos) != 1 {
		t.Fatalf("unexpected payload %+v", q.export)
	}

	job, _, _ := jobs.Get(context.Background(), receipt.JobID)
	if job.Kind != domain.JobKindExport || job.Status != domain.JobStatusQueued {
		t.Fatalf("unexpected stored job %+v", job)
	}
}

func TestSubmitMarksJobFailedWhenEnqueueFails(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	q := &fakeQueue{err: asynq.ErrTaskIDConflict}
	s := New(zerolog.Nop(), q, jobs, nil)

	_, err := s.SubmitExport(context.Background(), domain.ExportRequest{
		SourceType:  domain.SourceTypeLocalFile,
		PhotobookID: "42",
		Photos:      []domain.PhotoPage{{FilePath: "a.jpg"}},
	})
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		t.Fatalf("expected ErrTaskIDConflict, got %v", err)
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	s := New(zerolog.Nop(), &fakeQueue{}, nil, nil)

	if _, err := s.SubmitExport(context.Background(), domain.ExportRequest{SourceType: domain.SourceTypeLocalFile}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := s.SubmitTransform(context.Background(), domain.TransformRequest{SourceType: "ftp"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

type fakeQueue struct {
	calls     int
	err       error
	transform queue.TransformPhotoPayload
	export    queue.ExportPhotobookPayload
}

func (f *fakeQueue) EnqueueTransformPhoto(_ context.Context, payload queue.TransformPhotoPayload) (*asynq.TaskInfo, error) {
	f.calls++
	f.transform = payload
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "task-" + payload.JobID, Queue: "default"}, nil
}

func (f *fakeQueue) EnqueueExportPhotobook(_ context.Context, payload queue.ExportPhotobookPayload) (*asynq.TaskInfo, error) {
	f.calls++
	f.export = payload
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "task-" + payload.JobID, Queue: "default"}, nil
}

type fakeStorage struct {
	exists bool
}

func (f fakeStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return f.exists, nil
}
