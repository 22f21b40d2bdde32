package worker

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelbook/internal/domain"
	"github.com/dunamismax/pixelbook/internal/lock"
	"github.com/dunamismax/pixelbook/internal/photobook"
	"github.com/dunamismax/pixelbook/internal/pipeline"
	"github.com/dunamismax/pixelbook/internal/queue"
	"github.com/dunamismax/pixelbook/internal/store"
	"github.com/dunamismax/pixelbook/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

func TestHandleTransformPhotoSucceeds(t *testing.T) {
	tmp := t.TempDir()
	photo := filepath.Join(tmp, "beach.png")
	writePNG(t, photo, 60, 40)

	jobs := seedJob(t, "job-1", domain.JobKindTransform)
	hooks := &captureWebhook{}
	s := newTestServer(t, tmp, jobs, hooks)

	task, err := queue.NewTransformPhotoTask(queue.TransformPhotoPayload{
		JobID:      "job-1",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "http://hooks.invalid/pixelbook",
		PhotoPath:  photo,
		Steps: []domain.Step{
			{Operation: domain.OperationFilter, Filter: "sepia"},
			{Operation: domain.OperationResize, Width: 30, Height: 20},
			{Operation: domain.OperationFilter, Filter: "emboss"},
		},
	})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	if err := s.handleTransformPhoto(context.Background(), task); err != nil {
		t.Fatalf("handle transform: %v", err)
	}

	job, _, _ := jobs.Get(context.Background(), "job-1")
	if job.Status != domain.JobStatusSucceeded || len(job.Artifacts) != 3 {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.Artifacts[0].Path != filepath.Join(tmp, "beach_sepia.png") {
		t.Fatalf("unexpected sepia artifact %s", job.Artifacts[0].Path)
	}
	if job.Artifacts[2].Derived {
		t.Fatal("expected the unknown filter to pass through")
	}

	if got := hooks.events(); len(got) != 1 || got[0] != webhook.EventPhotoTransformed {
		t.Fatalf("unexpected webhook events %v", got)
	}

	usage := jobs.UsageLogs()
	if len(usage) != 1 {
		t.Fatalf("expected one usage log, got %d", len(usage))
	}
	// Passthrough artifacts are not counted.
	if want := int64(60*40 + 30*20); usage[0].PixelsProcessed != want {
		t.Fatalf("expected pixels_processed=%d, got %d", want, usage[0].PixelsProcessed)
	}
	if usage[0].Kind != domain.JobKindTransform {
		t.Fatalf("expected kind transform, got %s", usage[0].Kind)
	}
}

func TestHandleTransformPhotoMissingSourceSkipsRetry(t *testing.T) {
	tmp := t.TempDir()
	jobs := seedJob(t, "job-2", domain.JobKindTransform)
	hooks := &captureWebhook{}
	s := newTestServer(t, tmp, jobs, hooks)

	task, _ := queue.NewTransformPhotoTask(queue.TransformPhotoPayload{
		JobID:      "job-2",
		SourceType: domain.SourceTypeLocalFile,
		WebhookURL: "http://hooks.invalid/pixelbook",
		PhotoPath:  filepath.Join(tmp, "gone.jpg"),
		Steps:      []domain.Step{{Operation: domain.OperationFilter, Filter: "sepia"}},
	})

	err := s.handleTransformPhoto(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}

	job, _, _ := jobs.Get(context.Background(), "job-2")
	if job.Status != domain.JobStatusFailed || job.Error == "" {
		t.Fatalf("expected failed job with error, got %+v", job)
	}
	if got := hooks.events(); len(got) != 1 || got[0] != webhook.EventJobFailed {
		t.Fatalf("unexpected webhook events %v", got)
	}
}

func TestHandleTransformPhotoRejectsUnconfiguredSource(t *testing.T) {
	s := newTestServer(t, t.TempDir(), store.NewMemoryJobStore(), nil)

	task, _ := queue.NewTransformPhotoTask(queue.TransformPhotoPayload{
		JobID:      "job-3",
		SourceType: domain.SourceTypeObjectStore,
		PhotoPath:  "uploads/a.jpg",
		Steps:      []domain.Step{{Operation: domain.OperationResize, Width: 10, Height: 10}},
	})

	err := s.handleTransformPhoto(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) || !errors.Is(err, pipeline.ErrUnsupportedSourceType) {
		t.Fatalf("expected non-retryable unsupported source, got %v", err)
	}
}

func TestHandleTransformPhotoBadPayload(t *testing.T) {
	s := newTestServer(t, t.TempDir(), nil, nil)

	err := s.handleTransformPhoto(context.Background(), asynq.NewTask(queue.TypeTransformPhoto, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestHandlersNormalizeSourceType(t *testing.T) {
	tmp := t.TempDir()
	photo := filepath.Join(tmp, "dock.png")
	writePNG(t, photo, 24, 16)

	jobs := seedJob(t, "job-6", domain.JobKindTransform)
	s := newTestServer(t, tmp, jobs, nil)

	transform, _ := queue.NewTransformPhotoTask(queue.TransformPhotoPayload{
		JobID:      "job-6",
		SourceType: " LOCAL_FILE ",
		PhotoPath:  photo,
		Steps:      []domain.Step{{Operation: domain.OperationResize, Width: 12, Height: 8}},
	})
	if err := s.handleTransformPhoto(context.Background(), transform); err != nil {
		t.Fatalf("handle transform: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmp, "dock_12x8.png")); err != nil {
		t.Fatalf("expected resized artifact: %v", err)
	}

	export, _ := queue.NewExportPhotobookTask(queue.ExportPhotobookPayload{
		JobID:       "job-7",
		SourceType:  "Local_File",
		PhotobookID: "8",
		Photos:      []domain.PhotoPage{{FilePath: photo}},
	})
	if err := s.handleExportPhotobook(context.Background(), export); err != nil {
		t.Fatalf("handle export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmp, "photobook_8.pdf")); err != nil {
		t.Fatalf("expected export: %v", err)
	}
}

func TestHandleExportPhotobookKeepsMissingPage(t *testing.T) {
	tmp := t.TempDir()
	first := filepath.Join(tmp, "first.png")
	third := filepath.Join(tmp, "third.png")
	writePNG(t, first, 40, 30)
	writePNG(t, third, 30, 40)

	jobs := seedJob(t, "job-4", domain.JobKindExport)
	hooks := &captureWebhook{}
	s := newTestServer(t, tmp, jobs, hooks)

	task, _ := queue.NewExportPhotobookTask(queue.ExportPhotobookPayload{
		JobID:       "job-4",
		SourceType:  domain.SourceTypeLocalFile,
		WebhookURL:  "http://hooks.invalid/pixelbook",
		PhotobookID: "42",
		Photos: []domain.PhotoPage{
			{FilePath: first, Caption: "one"},
			{FilePath: filepath.Join(tmp, "missing.png"), Caption: "two"},
			{FilePath: third},
		},
	})

	if err := s.handleExportPhotobook(context.Background(), task); err != nil {
		t.Fatalf("handle export: %v", err)
	}

	wantPath := filepath.Join(tmp, "photobook_42.pdf")
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("expected export at %s: %v", wantPath, err)
	}

	job, _, _ := jobs.Get(context.Background(), "job-4")
	if job.Status != domain.JobStatusSucceeded || len(job.Artifacts) != 1 || job.Artifacts[0].Path != wantPath {
		t.Fatalf("unexpected job %+v", job)
	}

	bodies := hooks.bodies()
	if len(bodies) != 1 {
		t.Fatalf("expected one webhook, got %d", len(bodies))
	}
	missing, _ := bodies[0]["missing_pages"].([]int)
	if len(missing) != 1 || missing[0] != 2 {
		t.Fatalf("expected missing page 2, got %v", bodies[0]["missing_pages"])
	}
	if bodies[0]["pages"] != 3 {
		t.Fatalf("expected 3 pages, got %v", bodies[0]["pages"])
	}
}

func TestHandleExportPhotobookDefersWhileLocked(t *testing.T) {
	tmp := t.TempDir()
	photo := filepath.Join(tmp, "photo.png")
	writePNG(t, photo, 20, 20)

	jobs := seedJob(t, "job-5", domain.JobKindExport)
	s := newTestServer(t, tmp, jobs, nil)
	locker := &fakeLocker{err: lock.ErrHeld}
	s.locker = locker

	task, _ := queue.NewExportPhotobookTask(queue.ExportPhotobookPayload{
		JobID:       "job-5",
		SourceType:  domain.SourceTypeLocalFile,
		PhotobookID: "7",
		Photos:      []domain.PhotoPage{{FilePath: photo}},
	})

	err := s.handleExportPhotobook(context.Background(), task)
	if !errors.Is(err, lock.ErrHeld) || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected retryable lock conflict, got %v", err)
	}
	if locker.subject != filepath.Join(tmp, "photobook_7.pdf") {
		t.Fatalf("expected lock on the export path, got %q", locker.subject)
	}
	if _, err := os.Stat(filepath.Join(tmp, "photobook_7.pdf")); !os.IsNotExist(err) {
		t.Fatalf("expected no export while locked, stat err=%v", err)
	}

	job, _, _ := jobs.Get(context.Background(), "job-5")
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("expected job to stay queued, got %s", job.Status)
	}
}

func TestRecordUsageClampsComputeTime(t *testing.T) {
	jobs := store.NewMemoryJobStore()
	s := &Server{
		logger:     zerolog.Nop(),
		usageStore: jobs,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), "job-6", domain.JobKindExport, []domain.Artifact{
		{Path: "photobook_1.pdf", Bytes: 1_500, Derived: true},
	}, 0)

	usage := jobs.UsageLogs()
	if len(usage) != 1 {
		t.Fatalf("expected one usage log, got %d", len(usage))
	}
	if usage[0].ArtifactBytes != 1_500 {
		t.Fatalf("expected artifact_bytes=1500, got %d", usage[0].ArtifactBytes)
	}
	if usage[0].ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usage[0].ComputeTimeMS)
	}
}

func TestRetryable(t *testing.T) {
	if retryable(photobook.ErrNoPages) {
		t.Fatal("expected empty photobook to be permanent")
	}
	if !retryable(errors.New("connection reset")) {
		t.Fatal("expected transport errors to be retryable")
	}
}

func newTestServer(t *testing.T, dir string, jobs *store.MemoryJobStore, hooks webhookSender) *Server {
	t.Helper()

	processor, err := pipeline.NewLocalProcessor(pipeline.DefaultOptions())
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	bookOpts := photobook.DefaultOptions()
	bookOpts.ExportDir = dir
	assembler, err := photobook.NewLocal(bookOpts)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}

	s := &Server{
		logger:        zerolog.Nop(),
		sem:           make(chan struct{}, 1),
		processors:    map[string]*pipeline.Processor{domain.SourceTypeLocalFile: processor},
		assemblers:    map[string]*photobook.Assembler{domain.SourceTypeLocalFile: assembler},
		exportDir:     dir,
		webhookClient: hooks,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("pixelbook/worker-test"),
	}
	if jobs != nil {
		s.jobStore = jobs
		s.usageStore = jobs
	}
	return s
}

func seedJob(t *testing.T, id, kind string) *store.MemoryJobStore {
	t.Helper()

	jobs := store.NewMemoryJobStore()
	now := time.Now().UTC()
	if err := jobs.Create(context.Background(), domain.Job{
		ID:         id,
		Kind:       kind,
		Status:     domain.JobStatusQueued,
		SourceType: domain.SourceTypeLocalFile,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return jobs
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 120, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

type captureWebhook struct {
	mu    sync.Mutex
	sent  []string
	sentB []map[string]any
}

func (c *captureWebhook) Send(_ context.Context, _ string, event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, event)
	body, _ := payload.(map[string]any)
	c.sentB = append(c.sentB, body)
	return nil
}

func (c *captureWebhook) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func (c *captureWebhook) bodies() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.sentB...)
}

type fakeLocker struct {
	subject string
	err     error
}

func (f *fakeLocker) Acquire(_ context.Context, subject string) (*lock.Lease, error) {
	f.subject = subject
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}
