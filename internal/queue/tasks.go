package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/pixelbook/internal/domain"
	"github.com/hibiken/asynq"
)

const (
	TypeTransformPhoto  = "photo:transform"
	TypeExportPhotobook = "photobook:export"
)

type TransformPhotoPayload struct {
	JobID       string        `json:"job_id"`
	SourceType  string        `json:"source_type"`
	WebhookURL  string        `json:"webhook_url,omitempty"`
	PhotoPath   string        `json:"photo_path"`
	Steps       []domain.Step `json:"steps"`
	RequestedAt time.Time     `json:"requested_at"`
}

type ExportPhotobookPayload struct {
	JobID       string             `json:"job_id"`
	SourceType  string             `json:"source_type"`
	WebhookURL  string             `json:"webhook_url,omitempty"`
	PhotobookID string             `json:"photobook_id"`
	Photos      []domain.PhotoPage `json:"photos"`
	RequestedAt time.Time          `json:"requested_at"`
}

func NewTransformPhotoTask(payload TransformPhotoPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal transform payload: %w", err)
	}
	return asynq.NewTask(TypeTransformPhoto, body), nil
}

func ParseTransformPhotoPayload(task *asynq.Task) (TransformPhotoPayload, error) {
	var payload TransformPhotoPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TransformPhotoPayload{}, fmt.Errorf("unmarshal transform payload: %w", err)
	}
	if payload.JobID == "" {
		return TransformPhotoPayload{}, fmt.Errorf("transform payload: job_id is required")
	}
	return payload, nil
}

func NewExportPhotobookTask(payload ExportPhotobookPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal export payload: %w", err)
	}
	return asynq.NewTask(TypeExportPhotobook, body), nil
}

func ParseExportPhotobookPayload(task *asynq.Task) (ExportPhotobookPayload, error) {
	var payload ExportPhotobookPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ExportPhotobookPayload{}, fmt.Errorf("unmarshal export payload: %w", err)
	}
	if payload.JobID == "" || payload.PhotobookID == "" {
		return ExportPhotobookPayload{}, fmt.Errorf("export payload: job_id and photobook_id are required")
	}
	return payload, nil
}

// exportTaskID makes a pending export of a photobook unique in the queue.
func exportTaskID(photobookID string) string {
	return "photobook-export:" + photobookID
}
