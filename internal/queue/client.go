package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

type Options struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	Close() error
}

type Client struct {
	client    taskEnqueuer
	inspector taskInspector
	opts      Options
}

func NewClient(redisOpt asynq.RedisClientOpt, opts Options) *Client {
	if opts.Queue == "" {
		opts.Queue = "default"
	}
	if opts.MaxRetry < 0 {
		opts.MaxRetry = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Minute
	}
	return &Client{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		opts:      opts,
	}
}

func (c *Client) EnqueueTransformPhoto(ctx context.Context, payload TransformPhotoPayload) (*asynq.TaskInfo, error) {
	task, err := NewTransformPhotoTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, c.taskOptions()...)
}

// EnqueueExportPhotobook returns asynq.ErrTaskIDConflict while an export of
// the same photobook is still pending, scheduled for retry or running. The
// record of a finished export (completed or archived) is removed so the
// photobook can be exported again.
func (c *Client) EnqueueExportPhotobook(ctx context.Context, payload ExportPhotobookPayload) (*asynq.TaskInfo, error) {
	task, err := NewExportPhotobookTask(payload)
	if err != nil {
		return nil, err
	}
	taskID := exportTaskID(payload.PhotobookID)
	opts := append(c.taskOptions(), asynq.TaskID(taskID))

	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if !errors.Is(err, asynq.ErrTaskIDConflict) {
		return info, err
	}

	cleared, clearErr := c.clearFinished(taskID)
	if clearErr != nil {
		return nil, fmt.Errorf("%w: inspect previous export: %v", err, clearErr)
	}
	if !cleared {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, opts...)
}

// clearFinished deletes the task record under taskID when that task is done.
// It reports whether the id is free to use again.
func (c *Client) clearFinished(taskID string) (bool, error) {
	if c.inspector == nil {
		return false, nil
	}

	prev, err := c.inspector.GetTaskInfo(c.opts.Queue, taskID)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	switch prev.State {
	case asynq.TaskStateCompleted, asynq.TaskStateArchived:
	default:
		return false, nil
	}

	if err := c.inspector.DeleteTask(c.opts.Queue, taskID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, err
	}
	return true, nil
}

func (c *Client) taskOptions() []asynq.Option {
	return []asynq.Option{
		asynq.Queue(c.opts.Queue),
		asynq.MaxRetry(c.opts.MaxRetry),
		asynq.Timeout(c.opts.Timeout),
	}
}

func (c *Client) Close() error {
	var inspectorErr error
	if c.inspector != nil {
		inspectorErr = c.inspector.Close()
	}
	return errors.Join(c.client.Close(), inspectorErr)
}
