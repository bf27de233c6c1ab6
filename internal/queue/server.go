package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/ragscale/api/internal/logging"
)

// DeadHandler is called once for a task that will not be retried again.
type DeadHandler func(ctx context.Context, task *asynq.Task, err error)

type ServerConfig struct {
	Concurrency     int
	Policy          Policy
	LogLevel        string
	ShutdownTimeout time.Duration
	OnDead          DeadHandler
}

// Exhausted reports whether a failed task is about to be archived rather
// than retried. It mirrors asynq's own archive decision and must be called
// with the task's context.
func Exhausted(ctx context.Context, err error) bool {
	if errors.Is(err, asynq.SkipRetry) {
		return true
	}
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return retried >= maxRetry
}

// NewServer builds the worker server over every lane. Failed tasks are
// logged; archived ones are also passed to cfg.OnDead.
func NewServer(rdb redis.UniversalClient, cfg ServerConfig, logger *slog.Logger) *asynq.Server {
	policy := cfg.Policy
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}

	return asynq.NewServerFromRedisClient(rdb, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      Lanes,
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return policy.Delay(n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			taskID, _ := asynq.GetTaskID(ctx)
			retried, _ := asynq.GetRetryCount(ctx)
			dead := Exhausted(ctx, err)
			logger.Warn("task failed",
				"task_id", taskID,
				"type", task.Type(),
				"retried", retried,
				"dead", dead,
				"error", err,
			)
			if dead && cfg.OnDead != nil {
				cfg.OnDead(ctx, task, err)
			}
		}),
		Logger:          logging.NewAsynqLogger(logger),
		LogLevel:        logging.AsynqLogLevel(cfg.LogLevel),
		ShutdownTimeout: shutdown,
	})
}

// Handler is the worker side of a task type
type Handler interface {
	ProcessTask(ctx context.Context, task *asynq.Task) error
}

// NewMux routes each task type to its worker
func NewMux(chunking, embedding, cleanup Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeChunk, chunking)
	mux.Handle(TypeEmbed, embedding)
	mux.Handle(TypeCleanup, cleanup)
	return mux
}
