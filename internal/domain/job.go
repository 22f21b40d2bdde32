package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	JobKindTransform = "transform"
	JobKindExport    = "export"

	SourceTypeLocalFile   = "local_file"
	SourceTypeObjectStore = "object_store"

	OperationFilter = "filter"
	OperationFrame  = "frame"
	OperationResize = "resize"
)

// DefaultFilterIntensity is used when a filter step leaves intensity unset.
const DefaultFilterIntensity = 50

type Step struct {
	Operation string `json:"operation"`
	Filter    string `json:"filter,omitempty"`
	Intensity *int   `json:"intensity,omitempty"`
	FramePath string `json:"frame_path,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
}

func (s Step) FilterIntensity() int {
	if s.Intensity == nil {
		return DefaultFilterIntensity
	}
	return *s.Intensity
}

type TransformRequest struct {
	SourceType string `json:"source_type"`
	PhotoPath  string `json:"photo_path"`
	WebhookURL string `json:"webhook_url,omitempty"`
	Steps      []Step `json:"steps"`
}

type ExportRequest struct {
	SourceType  string      `json:"source_type"`
	PhotobookID string      `json:"photobook_id"`
	WebhookURL  string      `json:"webhook_url,omitempty"`
	Photos      []PhotoPage `json:"photos"`
}

type Job struct {
	ID          string
	Kind        string
	Status      string
	SourceType  string
	WebhookURL  string
	PhotoPath   string
	Steps       []Step
	PhotobookID string
	Photos      []PhotoPage
	Artifacts   []Artifact
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r TransformRequest) Validate() error {
	if err := validateSourceType(r.SourceType); err != nil {
		return err
	}
	if strings.TrimSpace(r.PhotoPath) == "" {
		return errors.New("photo_path is required")
	}
	if len(r.Steps) == 0 {
		return errors.New("steps must contain at least one operation")
	}
	for i, step := range r.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate checks the fields each operation needs. Unknown filter names are
// accepted; they resolve to a passthrough when the step runs.
func (s Step) Validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Operation)) {
	case OperationFilter:
		if strings.TrimSpace(s.Filter) == "" {
			return errors.New("filter is required")
		}
		if s.Intensity != nil && (*s.Intensity < 0 || *s.Intensity > 100) {
			return fmt.Errorf("intensity must be within [0,100], got %d", *s.Intensity)
		}
	case OperationFrame:
		if strings.TrimSpace(s.FramePath) == "" {
			return errors.New("frame_path is required")
		}
	case OperationResize:
		if s.Width <= 0 || s.Height <= 0 {
			return fmt.Errorf("resize requires width and height > 0, got %dx%d", s.Width, s.Height)
		}
	case "":
		return errors.New("operation is required")
	default:
		return fmt.Errorf("unsupported operation: %s", s.Operation)
	}
	return nil
}

func (r ExportRequest) Validate() error {
	if err := validateSourceType(r.SourceType); err != nil {
		return err
	}
	if strings.TrimSpace(r.PhotobookID) == "" {
		return errors.New("photobook_id is required")
	}
	if len(r.Photos) == 0 {
		return errors.New("photos must contain at least one page")
	}
	for i, photo := range r.Photos {
		if strings.TrimSpace(photo.FilePath) == "" {
			return fmt.Errorf("photos[%d].file_path is required", i)
		}
	}
	return nil
}

func validateSourceType(sourceType string) error {
	switch strings.ToLower(strings.TrimSpace(sourceType)) {
	case "":
		return errors.New("source_type is required")
	case SourceTypeLocalFile, SourceTypeObjectStore:
		return nil
	default:
		return fmt.Errorf("unsupported source_type: %s", sourceType)
	}
}
