package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ragscale/api/internal/document"
	"github.com/ragscale/api/internal/model"
	"github.com/ragscale/api/internal/queue"
	"github.com/ragscale/api/internal/tracker"
	"github.com/ragscale/api/internal/vectorstore"
)

// Lifecycle owns the batch state transitions shared by all workers:
// failing a batch, detecting completion and scheduling cleanup.
type Lifecycle struct {
	tracker      BatchTracker
	publisher    Publisher
	enqueuer     JobEnqueuer
	uploadBucket string
	cleanupDelay time.Duration
	logger       *slog.Logger
}

func NewLifecycle(tr BatchTracker, pub Publisher, enq JobEnqueuer, uploadBucket string, cleanupDelay time.Duration, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		tracker:      tr,
		publisher:    pub,
		enqueuer:     enq,
		uploadBucket: uploadBucket,
		cleanupDelay: cleanupDelay,
		logger:       logger,
	}
}

// permanent reports whether retrying err can never succeed
func permanent(err error) bool {
	return errors.Is(err, queue.ErrInvalidJob) ||
		errors.Is(err, vectorstore.ErrValidation) ||
		errors.Is(err, document.ErrUnreadable) ||
		errors.Is(err, tracker.ErrBatchNotFound) ||
		errors.Is(err, asynq.SkipRetry)
}

// Fail marks the batch FAILED and publishes the failure. Only the call that
// performs the transition publishes, except when the record is gone: then
// the event is the only trace left.
func (l *Lifecycle) Fail(ctx context.Context, userID, batchID, details string) {
	changed, err := l.tracker.UpdateStatus(ctx, batchID, model.BatchStatusFailed)
	switch {
	case errors.Is(err, tracker.ErrBatchNotFound):
		l.logger.Warn("failing batch without a tracker record", "batch_id", batchID)
		l.publish(ctx, batchID, model.FailedEvent(userID, details))
		return
	case err != nil:
		l.logger.Error("failed to mark batch failed", "batch_id", batchID, "error", err)
		return
	case !changed:
		return
	}

	l.logger.Info("batch failed", "batch_id", batchID, "details", details)
	l.publish(ctx, batchID, model.FailedEvent(userID, details))
	l.scheduleCleanup(ctx, batchID)
}

// handle classifies a processing error. Permanent errors fail the batch now
// and stop retries; anything else goes back to the queue with details
// prefixed, and the batch only fails once retries are exhausted (see OnDead).
func (l *Lifecycle) handle(ctx context.Context, userID, batchID, details string, err error) error {
	if !permanent(err) {
		return fmt.Errorf("%s: %w", details, err)
	}
	l.Fail(ctx, userID, batchID, fmt.Sprintf("%s: %v", details, err))
	if errors.Is(err, asynq.SkipRetry) {
		return err
	}
	return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
}

// CheckCompletion re-reads the batch after this worker's own increment and
// either completes it or publishes its current progress.
func (l *Lifecycle) CheckCompletion(ctx context.Context, batchID string) error {
	batch, err := l.tracker.GetBatchStatus(ctx, batchID)
	if err != nil {
		return err
	}
	if batch.Status.IsTerminal() {
		return nil
	}

	if !batch.Complete() {
		l.publish(ctx, batchID, batch.Event())
		return nil
	}

	changed, err := l.tracker.UpdateStatus(ctx, batchID, model.BatchStatusSuccess)
	if err != nil {
		return err
	}
	if !changed {
		// a sibling worker completed (or failed) it first
		return nil
	}

	batch.Status = model.BatchStatusSuccess
	l.logger.Info("batch completed",
		"batch_id", batchID,
		"files", batch.TotalFiles,
		"chunks", batch.TotalChunks,
	)
	l.publish(ctx, batchID, batch.Event())
	l.scheduleCleanup(ctx, batchID)
	return nil
}

// OnDead fails the batch of an ingestion task that exhausted its retries.
// Permanent errors were already handled where they happened. A dead cleanup
// task says nothing about its batch's outcome and is only logged.
func (l *Lifecycle) OnDead(ctx context.Context, task *asynq.Task, err error) {
	if errors.Is(err, asynq.SkipRetry) {
		return
	}
	switch task.Type() {
	case queue.TypeChunk, queue.TypeEmbed:
	default:
		l.logger.Warn("dead task left in the dead lane", "type", task.Type(), "error", err)
		return
	}
	ref, ok := queue.RefOf(task.Payload())
	if !ok {
		return
	}
	// the task context may already be past its deadline
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	l.Fail(ctx, ref.UserID, ref.BatchID, fmt.Sprintf("Ingestion failed after retries: %v", err))
}

func (l *Lifecycle) publish(ctx context.Context, batchID string, ev model.ProgressEvent) {
	if err := l.publisher.Publish(ctx, batchID, ev); err != nil {
		l.logger.Warn("failed to publish progress", "batch_id", batchID, "status", ev.Status, "error", err)
	}
}

func (l *Lifecycle) scheduleCleanup(ctx context.Context, batchID string) {
	if l.uploadBucket == "" {
		return
	}
	job := model.CleanupJob{BatchID: batchID, BucketName: l.uploadBucket}
	if _, err := l.enqueuer.EnqueueCleanup(ctx, job, l.cleanupDelay); err != nil {
		l.logger.Warn("failed to schedule cleanup", "batch_id", batchID, "error", err)
	}
}
