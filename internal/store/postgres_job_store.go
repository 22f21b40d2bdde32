package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelbook/internal/domain"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	source_type TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	photo_path TEXT NOT NULL DEFAULT '',
	steps JSONB NOT NULL DEFAULT '[]',
	photobook_id TEXT NOT NULL DEFAULT '',
	photos JSONB NOT NULL DEFAULT '[]',
	artifacts JSONB NOT NULL DEFAULT '[]',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	artifact_bytes BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const jobColumns = `id, kind, status, source_type, webhook_url, photo_path, steps, photobook_id, photos, artifacts, error, created_at, updated_at`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	steps, photos, artifacts, err := marshalJobLists(job)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID,
		job.Kind,
		job.Status,
		job.SourceType,
		job.WebhookURL,
		job.PhotoPath,
		steps,
		job.PhotobookID,
		photos,
		artifacts,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+`
		 FROM jobs
		 WHERE id = $1`,
		id,
	)

	var (
		job           domain.Job
		steps         []byte
		photos        []byte
		artifactsJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.Status,
		&job.SourceType,
		&job.WebhookURL,
		&job.PhotoPath,
		&steps,
		&job.PhotobookID,
		&photos,
		&artifactsJSON,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	if err := json.Unmarshal(steps, &job.Steps); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job steps: %w", err)
	}
	if err := json.Unmarshal(photos, &job.Photos); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job photos: %w", err)
	}
	if err := json.Unmarshal(artifactsJSON, &job.Artifacts); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job artifacts: %w", err)
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, updated_at = $2
		 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job status: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) SaveResult(ctx context.Context, id, status string, artifacts []domain.Artifact, errMsg string) (domain.Job, error) {
	if artifacts == nil {
		artifacts = []domain.Artifact{}
	}
	artifactsJSON, err := json.Marshal(artifacts)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal job artifacts: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
		 SET status = $1, artifacts = $2, error = $3, updated_at = $4
		 WHERE id = $5`,
		status,
		artifactsJSON,
		errMsg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("save job result: %w", err)
	}
	return s.reload(ctx, id, res)
}

func (s *PostgresJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (job_id, kind, pixels_processed, artifact_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		usage.JobID,
		usage.Kind,
		usage.PixelsProcessed,
		usage.ArtifactBytes,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) reload(ctx context.Context, id string, res sql.Result) (domain.Job, error) {
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func marshalJobLists(job domain.Job) (steps, photos, artifacts []byte, err error) {
	if job.Steps == nil {
		job.Steps = []domain.Step{}
	}
	if job.Photos == nil {
		job.Photos = []domain.PhotoPage{}
	}
	if job.Artifacts == nil {
		job.Artifacts = []domain.Artifact{}
	}

	if steps, err = json.Marshal(job.Steps); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal job steps: %w", err)
	}
	if photos, err = json.Marshal(job.Photos); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal job photos: %w", err)
	}
	if artifacts, err = json.Marshal(job.Artifacts); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal job artifacts: %w", err)
	}
	return steps, photos, artifacts, nil
}
