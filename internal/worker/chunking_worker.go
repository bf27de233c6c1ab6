package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/ragscale/api/internal/document"
	"github.com/ragscale/api/internal/model"
	"github.com/ragscale/api/internal/queue"
	"github.com/ragscale/api/internal/tracker"
)

// ChunkingWorker turns one uploaded file into embedding jobs
type ChunkingWorker struct {
	lifecycle  *Lifecycle
	tracker    BatchTracker
	fetcher    ObjectFetcher
	splitter   DocumentSplitter
	enqueuer   JobEnqueuer
	stagingDir string
	batchSize  int
	logger     *slog.Logger
}

type ChunkingConfig struct {
	StagingDir string
	BatchSize  int
}

// NewChunkingWorker creates a new chunking worker
func NewChunkingWorker(lc *Lifecycle, tr BatchTracker, fetcher ObjectFetcher, splitter DocumentSplitter, enq JobEnqueuer, cfg ChunkingConfig, logger *slog.Logger) *ChunkingWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}
	return &ChunkingWorker{
		lifecycle:  lc,
		tracker:    tr,
		fetcher:    fetcher,
		splitter:   splitter,
		enqueuer:   enq,
		stagingDir: cfg.StagingDir,
		batchSize:  cfg.BatchSize,
		logger:     logger.With("worker", "chunking"),
	}
}

// ProcessTask handles chunking task processing
func (w *ChunkingWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	job, err := queue.DecodeChunking(t)
	if err != nil {
		if ref, ok := queue.RefOf(t.Payload()); ok {
			return w.lifecycle.handle(ctx, ref.UserID, ref.BatchID, "Invalid chunking job", err)
		}
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	log := w.logger.With("batch_id", job.BatchID, "object_key", job.ObjectKey)

	batch, err := w.tracker.GetBatchStatus(ctx, job.BatchID)
	switch {
	case errors.Is(err, tracker.ErrBatchNotFound):
		log.Warn("batch record missing, skipping file")
		return nil
	case err != nil:
		return err
	case batch.Status == model.BatchStatusFailed:
		log.Info("batch already failed, skipping file")
		return nil
	case batch.Status.IsTerminal():
		return nil
	}

	log.Info("starting chunking job")

	chunks, err := w.chunk(ctx, job)
	if err != nil {
		return w.lifecycle.handle(ctx, job.UserID, job.BatchID,
			fmt.Sprintf("Failed to process file %s", path.Base(job.ObjectKey)), err)
	}

	for i, part := range document.Batches(chunks, w.batchSize) {
		ej := model.EmbeddingJob{
			UserID:  job.UserID,
			BatchID: job.BatchID,
			JobKey:  fmt.Sprintf("%s#%d", job.ObjectKey, i),
			Payload: part,
		}
		if _, err := w.enqueuer.EnqueueEmbedding(ctx, ej); err != nil {
			return w.lifecycle.handle(ctx, job.UserID, job.BatchID, "Failed to queue embedding job", err)
		}
	}

	applied, err := w.tracker.RecordChunkedFile(ctx, job.BatchID, job.ObjectKey, len(chunks))
	if err != nil {
		return w.lifecycle.handle(ctx, job.UserID, job.BatchID, "Failed to record chunked file", err)
	}
	if !applied {
		log.Info("file already recorded, not counting again")
	}

	log.Info("chunking job done", "chunks", len(chunks))

	// the last file's embeddings may have finished before its counters landed
	if err := w.lifecycle.CheckCompletion(ctx, job.BatchID); err != nil {
		return w.lifecycle.handle(ctx, job.UserID, job.BatchID, "Failed to check batch completion", err)
	}
	return nil
}

// chunk stages the object locally, splits it and removes the staged copy.
func (w *ChunkingWorker) chunk(ctx context.Context, job model.ChunkingJob) ([]model.ChunkRecord, error) {
	staged := filepath.Join(w.stagingDir, uuid.NewString()+"_"+strings.ReplaceAll(job.ObjectKey, "/", "_"))
	defer os.Remove(staged)

	if err := w.fetcher.GetToPath(ctx, job.BucketName, job.ObjectKey, staged); err != nil {
		return nil, err
	}

	return w.splitter.SplitFile(ctx, staged, map[string]any{
		model.MetaUserID:  job.UserID,
		model.MetaBatchID: job.BatchID,
		model.MetaSource:  job.ObjectKey,
	})
}
