package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/ragscale/api/internal/model"
	"github.com/ragscale/api/internal/queue"
	"github.com/ragscale/api/internal/tracker"
)

const msgBatchMissing = "Batch record not found, progress cannot be attributed"

// details names a vanished batch record as such and anything else by what failed
func details(err error, what string) string {
	if errors.Is(err, tracker.ErrBatchNotFound) {
		return msgBatchMissing
	}
	return what
}

// EmbeddingWorker stores one sub-batch of chunks and advances the batch
type EmbeddingWorker struct {
	lifecycle *Lifecycle
	tracker   BatchTracker
	store     VectorUpserter
	logger    *slog.Logger
}

// NewEmbeddingWorker creates a new embedding worker
func NewEmbeddingWorker(lc *Lifecycle, tr BatchTracker, store VectorUpserter, logger *slog.Logger) *EmbeddingWorker {
	return &EmbeddingWorker{
		lifecycle: lc,
		tracker:   tr,
		store:     store,
		logger:    logger.With("worker", "embedding"),
	}
}

// ProcessTask handles embedding task processing
func (w *EmbeddingWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	job, err := queue.DecodeEmbedding(t)
	if err != nil {
		if ref, ok := queue.RefOf(t.Payload()); ok {
			return w.lifecycle.handle(ctx, ref.UserID, ref.BatchID, "Invalid embedding job", err)
		}
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	log := w.logger.With("batch_id", job.BatchID, "job_key", job.JobKey)

	batch, err := w.tracker.GetBatchStatus(ctx, job.BatchID)
	switch {
	case errors.Is(err, tracker.ErrBatchNotFound):
		return w.lifecycle.handle(ctx, job.UserID, job.BatchID, msgBatchMissing, err)
	case err != nil:
		return err
	case batch.Status == model.BatchStatusFailed:
		log.Info("batch already failed, skipping embeddings")
		return nil
	case batch.Status.IsTerminal():
		return nil
	}

	if err := w.store.Upsert(ctx, job.Payload); err != nil {
		return w.lifecycle.handle(ctx, job.UserID, job.BatchID, "Failed to embed chunks", err)
	}

	applied, err := w.tracker.RecordEmbedded(ctx, job.BatchID, job.JobKey, len(job.Payload))
	if err != nil {
		return w.lifecycle.handle(ctx, job.UserID, job.BatchID, details(err, "Failed to record embedded chunks"), err)
	}
	if !applied {
		log.Info("sub-batch already counted")
	}

	log.Debug("embedded chunks", "count", len(job.Payload))

	if err := w.lifecycle.CheckCompletion(ctx, job.BatchID); err != nil {
		return w.lifecycle.handle(ctx, job.UserID, job.BatchID, details(err, "Failed to check batch completion"), err)
	}
	return nil
}
