package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ragscale/api/internal/config"
	"github.com/ragscale/api/internal/model"
)

// Policy is the retry and retention policy applied to every job
type Policy struct {
	MaxRetry    int
	RetryDelays []time.Duration
	Retention   time.Duration
}

// DefaultPolicy retries three times after 10s, 30s and 60s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetry:    3,
		RetryDelays: []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second},
		Retention:   24 * time.Hour,
	}
}

// PolicyFrom applies configured values over DefaultPolicy
func PolicyFrom(cfg *config.QueueConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxRetry > 0 {
		p.MaxRetry = cfg.MaxRetry
	}
	if len(cfg.RetryDelays) > 0 {
		p.RetryDelays = cfg.RetryDelays
	}
	if cfg.Retention > 0 {
		p.Retention = cfg.Retention
	}
	return p
}

// Delay returns the backoff before retry n (0 based). Past the configured
// list the last delay repeats.
func (p Policy) Delay(n int) time.Duration {
	if len(p.RetryDelays) == 0 {
		return asynq.DefaultRetryDelayFunc(n, nil, nil)
	}
	if n < 0 {
		n = 0
	}
	if n >= len(p.RetryDelays) {
		n = len(p.RetryDelays) - 1
	}
	return p.RetryDelays[n]
}

// TaskEnqueuer is satisfied by *asynq.Client
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client enqueues typed ingestion jobs
type Client struct {
	tasks  TaskEnqueuer
	policy Policy
}

func NewClient(tasks TaskEnqueuer, policy Policy) *Client {
	return &Client{tasks: tasks, policy: policy}
}

func (c *Client) options(lane, taskID string) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(lane),
		asynq.MaxRetry(c.policy.MaxRetry),
	}
	if c.policy.Retention > 0 {
		opts = append(opts, asynq.Retention(c.policy.Retention))
	}
	if taskID != "" {
		opts = append(opts, asynq.TaskID(taskID))
	}
	return opts
}

// enqueue treats a TaskID conflict as success: the job is already queued.
func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts []asynq.Option) (string, error) {
	info, err := c.tasks.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	return info.ID, nil
}

// EnqueueChunking queues one uploaded file for chunking
func (c *Client) EnqueueChunking(ctx context.Context, job model.ChunkingJob) (string, error) {
	task, err := newTask(TypeChunk, job)
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task, c.options(LaneChunking, "chunk:"+job.BatchID+":"+job.ObjectKey))
}

// EnqueueEmbedding queues one sub-batch of chunks. The task id is derived
// from the job key, so a redelivered chunking job cannot queue it twice
// while the first copy is retained.
func (c *Client) EnqueueEmbedding(ctx context.Context, job model.EmbeddingJob) (string, error) {
	task, err := newTask(TypeEmbed, job)
	if err != nil {
		return "", err
	}
	return c.enqueue(ctx, task, c.options(LaneEmbedding, "embed:"+job.BatchID+":"+job.JobKey))
}

// EnqueueCleanup schedules removal of a batch's uploads after delay
func (c *Client) EnqueueCleanup(ctx context.Context, job model.CleanupJob, delay time.Duration) (string, error) {
	task, err := newTask(TypeCleanup, job)
	if err != nil {
		return "", err
	}
	opts := c.options(LaneMaintenance, "cleanup:"+job.BatchID)
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	return c.enqueue(ctx, task, opts)
}
