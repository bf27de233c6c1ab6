package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ragscale/api/internal/queue"
)

// CleanupWorker removes the uploads of a finished batch
type CleanupWorker struct {
	remover ObjectRemover
	logger  *slog.Logger
}

func NewCleanupWorker(remover ObjectRemover, logger *slog.Logger) *CleanupWorker {
	return &CleanupWorker{remover: remover, logger: logger.With("worker", "cleanup")}
}

// ProcessTask handles cleanup task processing
func (w *CleanupWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	job, err := queue.DecodeCleanup(t)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	n, err := w.remover.DeletePrefix(ctx, job.BucketName, job.BatchID+"/")
	if err != nil {
		w.logger.Warn("cleanup failed", "batch_id", job.BatchID, "error", err)
		return err
	}

	w.logger.Info("removed batch uploads", "batch_id", job.BatchID, "objects", n)
	return nil
}
